package mapdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/hloc/blobstore"
	"github.com/hupe1980/hloc/codec"
	"github.com/hupe1980/hloc/internal/compress"
)

// Blob names of a map.
const (
	ManifestName   = "map.json"
	ImagesName     = "images.txt"
	PointsName     = "points3D.txt"
	IntrinsicsName = "intrinsics.txt"
)

// ManifestVersion is the current manifest format version.
const ManifestVersion = 1

// ErrNoManifest is returned by Open when the store holds no map.
var ErrNoManifest = errors.New("mapdb: no manifest")

// Manifest describes a stored map.
type Manifest struct {
	Version     int    `json:"version"`
	Codec       string `json:"codec"`
	Compression string `json:"compression"`
	GlobalDim   int    `json:"global_dim"`
	LocalDim    int    `json:"local_dim"`
	NumImages   int    `json:"num_images"`
	NumPoints   int    `json:"num_points"`
	NumGlobal   int    `json:"num_global"`
	Augmented   bool   `json:"augmented"`
}

// WriteManifest stores the manifest with the default codec.
func WriteManifest(ctx context.Context, store blobstore.BlobStore, m Manifest) error {
	m.Version = ManifestVersion
	m.Codec = codec.Default.Name()
	data, err := codec.Default.Marshal(m)
	if err != nil {
		return err
	}
	return store.Put(ctx, ManifestName, data)
}

// ReadManifest loads map.json.
func ReadManifest(ctx context.Context, store blobstore.BlobStore) (Manifest, error) {
	data, err := blobstore.ReadAll(ctx, store, ManifestName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return Manifest{}, ErrNoManifest
		}
		return Manifest{}, err
	}

	// The codec name is inside the payload; every built-in codec reads JSON.
	var m Manifest
	if err := codec.Default.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("mapdb: manifest: %w", err)
	}
	if _, ok := codec.ByName(m.Codec); !ok {
		return Manifest{}, fmt.Errorf("mapdb: manifest written with unknown codec %q", m.Codec)
	}
	if m.Version != ManifestVersion {
		return Manifest{}, fmt.Errorf("mapdb: unsupported manifest version %d", m.Version)
	}
	return m, nil
}

// Open loads a map from a blob store. Local features stay in the store and
// are served through a DescriptorStore configured by optFns.
func Open(ctx context.Context, store blobstore.BlobStore, optFns ...func(o *DescriptorStoreOptions)) (*Database, Manifest, error) {
	m, err := ReadManifest(ctx, store)
	if err != nil {
		return nil, Manifest{}, err
	}

	b := NewBuilder()

	data, err := blobstore.ReadAll(ctx, store, ImagesName)
	if err != nil {
		return nil, m, err
	}
	images, err := ParseImagesText(bytes.NewReader(data))
	if err != nil {
		return nil, m, err
	}
	b.AddImages(images...)

	data, err = blobstore.ReadAll(ctx, store, PointsName)
	if err != nil {
		return nil, m, err
	}
	points, err := ParsePointsText(bytes.NewReader(data))
	if err != nil {
		return nil, m, err
	}
	b.AddPoints(points...)

	data, err = blobstore.ReadAll(ctx, store, IntrinsicsName)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
	case err != nil:
		return nil, m, err
	default:
		intrinsics, err := ParseIntrinsics(bytes.NewReader(data))
		if err != nil {
			return nil, m, err
		}
		b.AddIntrinsics(intrinsics)
	}

	ids, vecs, err := ReadGlobal(ctx, store)
	if err != nil {
		return nil, m, err
	}
	b.SetGlobalDescriptors(ids, vecs)

	opts := []func(o *DescriptorStoreOptions){}
	if c, err := compress.Parse(m.Compression); err == nil {
		opts = append(opts, func(o *DescriptorStoreOptions) { o.Compression = c })
	}
	b.SetFeatures(NewDescriptorStore(store, append(opts, optFns...)...))

	db, err := b.Build()
	if err != nil {
		return nil, m, err
	}
	return db, m, nil
}

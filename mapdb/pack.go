package mapdb

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/hloc/blobstore"
	"github.com/hupe1980/hloc/codec"
	"github.com/hupe1980/hloc/internal/compress"
)

// AugmentedPrefix marks feature dump entries of augmented image copies.
// "augmented:db/123.jpg" is stored under the negated id of "db/123.jpg".
const AugmentedPrefix = "augmented:"

// PackInput is the raw content of a map before it is written to a store.
type PackInput struct {
	// Images, Points and Intrinsics hold the COLMAP text files.
	Images     []byte
	Points     []byte
	Intrinsics []byte

	// GlobalNames and Global are the rows of the global descriptor dump.
	GlobalNames []string
	Global      [][]float32

	// Local holds the local features per image name.
	Local []NamedFeatures

	Compression compress.Type
}

// Pack validates the input and writes a complete map into store. The
// manifest is written last, so a partially written map cannot be opened.
func Pack(ctx context.Context, store blobstore.BlobStore, in PackInput) (Manifest, error) {
	images, err := ParseImagesText(bytes.NewReader(in.Images))
	if err != nil {
		return Manifest{}, err
	}
	points, err := ParsePointsText(bytes.NewReader(in.Points))
	if err != nil {
		return Manifest{}, err
	}

	b := NewBuilder().AddImages(images...).AddPoints(points...)
	if len(in.Intrinsics) > 0 {
		intrinsics, err := ParseIntrinsics(bytes.NewReader(in.Intrinsics))
		if err != nil {
			return Manifest{}, err
		}
		b.AddIntrinsics(intrinsics)
	}
	db, err := b.Build()
	if err != nil {
		return Manifest{}, err
	}

	resolve := func(name string) (ImageID, error) {
		base, augmented := strings.CutPrefix(name, AugmentedPrefix)
		img, ok := db.ImageByName(base)
		if !ok {
			return 0, fmt.Errorf("mapdb: unknown image %q", base)
		}
		if augmented {
			return -img.ID, nil
		}
		return img.ID, nil
	}

	m := Manifest{
		Compression: in.Compression.String(),
		NumImages:   db.NumImages(),
		NumPoints:   db.NumPoints(),
		NumGlobal:   len(in.Global),
	}

	ids := make([]ImageID, len(in.GlobalNames))
	for i, name := range in.GlobalNames {
		if ids[i], err = resolve(name); err != nil {
			return Manifest{}, err
		}
		if ids[i] < 0 {
			m.Augmented = true
		}
	}
	if len(in.Global) > 0 {
		m.GlobalDim = len(in.Global[0])
	}

	features := NewDescriptorStore(store, func(o *DescriptorStoreOptions) {
		o.Compression = in.Compression
		o.CacheBytes = 0
	})
	for _, nf := range in.Local {
		id, err := resolve(nf.Name)
		if err != nil {
			return Manifest{}, err
		}
		if m.LocalDim == 0 {
			m.LocalDim = nf.Features.Dim()
		} else if d := nf.Features.Dim(); d != 0 && d != m.LocalDim {
			return Manifest{}, fmt.Errorf("mapdb: %s has local dimension %d, want %d", nf.Name, d, m.LocalDim)
		}
		if err := features.Put(ctx, id, nf.Features); err != nil {
			return Manifest{}, err
		}
	}

	if err := WriteGlobal(ctx, store, ids, in.Global, in.Compression); err != nil {
		return Manifest{}, err
	}
	if err := store.Put(ctx, ImagesName, in.Images); err != nil {
		return Manifest{}, err
	}
	if err := store.Put(ctx, PointsName, in.Points); err != nil {
		return Manifest{}, err
	}
	if len(in.Intrinsics) > 0 {
		if err := store.Put(ctx, IntrinsicsName, in.Intrinsics); err != nil {
			return Manifest{}, err
		}
	}
	m.Version = ManifestVersion
	m.Codec = codec.Default.Name()
	if err := WriteManifest(ctx, store, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

package mapdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/hupe1980/hloc/blobstore"
	"github.com/hupe1980/hloc/internal/cache"
	"github.com/hupe1980/hloc/internal/compress"
	"github.com/hupe1980/hloc/resource"
	"golang.org/x/sync/singleflight"
)

const (
	featuresMagic = 0x44464c48 // "HLFD"
	globalMagic   = 0x44474c48 // "HLGD"
	formatVersion = 1
	blobHeaderLen = 16
)

// ErrCorruptBlob is returned when a stored blob cannot be decoded.
var ErrCorruptBlob = errors.New("mapdb: corrupt blob")

// FeaturesBlobName returns the blob name of an image's local features.
func FeaturesBlobName(id ImageID) string {
	return "features/" + strconv.FormatInt(int64(id), 10) + ".bin"
}

// blob layout: [magic u32][version u16][reserved u16][count u32][dim u32]
// followed by a compress block holding the body.
func encodeBlob(magic uint32, count, dim int, body []byte, c compress.Type) ([]byte, error) {
	block, err := compress.Encode(body, c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, blobHeaderLen, blobHeaderLen+len(block))
	binary.LittleEndian.PutUint32(out[0:], magic)
	binary.LittleEndian.PutUint16(out[4:], formatVersion)
	binary.LittleEndian.PutUint32(out[8:], uint32(count))
	binary.LittleEndian.PutUint32(out[12:], uint32(dim))
	return append(out, block...), nil
}

func decodeBlob(magic uint32, data []byte) (count, dim int, body []byte, err error) {
	if len(data) < blobHeaderLen {
		return 0, 0, nil, fmt.Errorf("%w: short header", ErrCorruptBlob)
	}
	if got := binary.LittleEndian.Uint32(data[0:]); got != magic {
		return 0, 0, nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptBlob, got)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != formatVersion {
		return 0, 0, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptBlob, v)
	}
	count = int(binary.LittleEndian.Uint32(data[8:]))
	dim = int(binary.LittleEndian.Uint32(data[12:]))

	body, err = compress.Decode(data[blobHeaderLen:])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}
	return count, dim, body, nil
}

// EncodeFeatures serializes local features.
func EncodeFeatures(f LocalFeatures, c compress.Type) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	n, dim := f.Len(), f.Dim()
	body := make([]byte, 0, n*8+n*dim*4)
	for _, kp := range f.Keypoints {
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(float32(kp[0])))
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(float32(kp[1])))
	}
	for _, d := range f.Descriptors {
		for _, v := range d {
			body = binary.LittleEndian.AppendUint32(body, math.Float32bits(v))
		}
	}
	return encodeBlob(featuresMagic, n, dim, body, c)
}

// DecodeFeatures parses a blob produced by EncodeFeatures.
func DecodeFeatures(data []byte) (LocalFeatures, error) {
	n, dim, body, err := decodeBlob(featuresMagic, data)
	if err != nil {
		return LocalFeatures{}, err
	}
	if len(body) != n*8+n*dim*4 {
		return LocalFeatures{}, fmt.Errorf("%w: body size %d for %d x %d", ErrCorruptBlob, len(body), n, dim)
	}

	f := LocalFeatures{
		Keypoints:   make([][2]float64, n),
		Descriptors: make([][]float32, n),
	}
	off := 0
	next := func() float32 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		return v
	}
	for i := range n {
		f.Keypoints[i] = [2]float64{float64(next()), float64(next())}
	}
	flat := make([]float32, n*dim)
	for i := range flat {
		flat[i] = next()
	}
	for i := range n {
		f.Descriptors[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return f, nil
}

// DescriptorStoreOptions configures a DescriptorStore.
type DescriptorStoreOptions struct {
	// Compression is used for blobs written through Put.
	Compression compress.Type
	// CacheBytes bounds the decoded feature cache. 0 disables caching.
	CacheBytes int64
	// Resources bounds memory, concurrent loads and read throughput.
	// Nil means unlimited.
	Resources *resource.Controller
}

// DefaultDescriptorStoreOptions contains the default options.
var DefaultDescriptorStoreOptions = DescriptorStoreOptions{
	Compression: compress.LZ4,
	CacheBytes:  512 << 20,
}

// DescriptorStore serves local features from a blob store.
// It is safe for concurrent use; concurrent loads of the same image are
// collapsed into one read.
type DescriptorStore struct {
	store blobstore.BlobStore
	opts  DescriptorStoreOptions
	cache *cache.LRU[ImageID, LocalFeatures]
	group singleflight.Group
}

var _ FeatureSource = (*DescriptorStore)(nil)

// NewDescriptorStore creates a DescriptorStore.
func NewDescriptorStore(store blobstore.BlobStore, optFns ...func(o *DescriptorStoreOptions)) *DescriptorStore {
	opts := DefaultDescriptorStoreOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &DescriptorStore{store: store, opts: opts}
	if opts.CacheBytes > 0 {
		s.cache = cache.NewLRU[ImageID, LocalFeatures](opts.CacheBytes, LocalFeatures.SizeBytes, opts.Resources)
	}
	return s
}

// Put writes the features of an image.
func (s *DescriptorStore) Put(ctx context.Context, id ImageID, f LocalFeatures) error {
	data, err := EncodeFeatures(f, s.opts.Compression)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, FeaturesBlobName(id), data); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Remove(id)
	}
	return nil
}

// LocalFeatures loads the features of an image. A missing blob yields
// ErrNoFeatures.
func (s *DescriptorStore) LocalFeatures(ctx context.Context, id ImageID) (LocalFeatures, error) {
	if s.cache != nil {
		if f, ok := s.cache.Get(id); ok {
			return f, nil
		}
	}

	v, err, _ := s.group.Do(strconv.FormatInt(int64(id), 10), func() (any, error) {
		return s.load(ctx, id)
	})
	if err != nil {
		return LocalFeatures{}, err
	}
	return v.(LocalFeatures), nil
}

func (s *DescriptorStore) load(ctx context.Context, id ImageID) (LocalFeatures, error) {
	rc := s.opts.Resources
	if err := rc.AcquireLoad(ctx); err != nil {
		return LocalFeatures{}, err
	}
	defer rc.ReleaseLoad()

	blob, err := s.store.Open(ctx, FeaturesBlobName(id))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return LocalFeatures{}, fmt.Errorf("%w: image %d", ErrNoFeatures, id)
		}
		return LocalFeatures{}, err
	}
	defer blob.Close()

	if err := rc.AcquireIO(ctx, int(blob.Size())); err != nil {
		return LocalFeatures{}, err
	}

	data := make([]byte, blob.Size())
	n, err := blob.ReadAt(ctx, data, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(data)) {
		return LocalFeatures{}, fmt.Errorf("mapdb: read features of image %d: %w", id, err)
	}
	if n != len(data) {
		return LocalFeatures{}, fmt.Errorf("%w: short read of image %d features: %d of %d bytes", ErrCorruptBlob, id, n, len(data))
	}

	f, err := DecodeFeatures(data)
	if err != nil {
		return LocalFeatures{}, fmt.Errorf("image %d: %w", id, err)
	}
	if s.cache != nil {
		s.cache.Set(id, f)
	}
	return f, nil
}

// CacheStats returns the hit and miss counts of the feature cache.
func (s *DescriptorStore) CacheStats() (hits, misses int64) {
	if s.cache == nil {
		return 0, 0
	}
	return s.cache.Stats()
}

const globalBlobName = "global.bin"

// WriteGlobal stores the global descriptor matrix as global.bin.
func WriteGlobal(ctx context.Context, store blobstore.BlobStore, ids []ImageID, vecs [][]float32, c compress.Type) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("mapdb: %d global ids but %d descriptors", len(ids), len(vecs))
	}
	dim := 0
	if len(vecs) > 0 {
		dim = len(vecs[0])
	}

	body := make([]byte, 0, len(ids)*8+len(ids)*dim*4)
	for _, id := range ids {
		body = binary.LittleEndian.AppendUint64(body, uint64(id))
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("mapdb: global descriptor %d has dimension %d, want %d", i, len(v), dim)
		}
		for _, x := range v {
			body = binary.LittleEndian.AppendUint32(body, math.Float32bits(x))
		}
	}

	data, err := encodeBlob(globalMagic, len(ids), dim, body, c)
	if err != nil {
		return err
	}
	return store.Put(ctx, globalBlobName, data)
}

// ReadGlobal loads global.bin.
func ReadGlobal(ctx context.Context, store blobstore.BlobStore) ([]ImageID, [][]float32, error) {
	data, err := blobstore.ReadAll(ctx, store, globalBlobName)
	if err != nil {
		return nil, nil, err
	}
	n, dim, body, err := decodeBlob(globalMagic, data)
	if err != nil {
		return nil, nil, err
	}
	if len(body) != n*8+n*dim*4 {
		return nil, nil, fmt.Errorf("%w: global body size %d for %d x %d", ErrCorruptBlob, len(body), n, dim)
	}

	ids := make([]ImageID, n)
	for i := range ids {
		ids[i] = ImageID(int64(binary.LittleEndian.Uint64(body[i*8:])))
	}
	body = body[n*8:]
	flat := make([]float32, n*dim)
	for i := range flat {
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return ids, vecs, nil
}

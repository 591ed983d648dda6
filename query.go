package hloc

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/hupe1980/hloc/mapdb"
)

// Query is one image to localize.
type Query struct {
	Name   string
	Global []float32
	Local  mapdb.LocalFeatures

	// Intrinsics overrides the calibration lookup by name.
	Intrinsics *mapdb.Intrinsics

	// Self is the query's own map id in verification mode, 0 otherwise.
	// Negative ids refer to augmented copies.
	Self mapdb.ImageID
	// Night selects the night accuracy thresholds.
	Night bool
	// GroundTruth is the map image the query was drawn from, if any.
	GroundTruth *mapdb.Image
}

// GlobalExtractor computes the global descriptor of an image.
type GlobalExtractor interface {
	ExtractGlobal(ctx context.Context, img image.Image) ([]float32, error)
}

// LocalExtractor computes the keypoints and local descriptors of an image.
type LocalExtractor interface {
	ExtractLocal(ctx context.Context, img image.Image) (mapdb.LocalFeatures, error)
}

// QueryFromImage runs both extractors on img.
func QueryFromImage(ctx context.Context, name string, img image.Image, g GlobalExtractor, l LocalExtractor) (Query, error) {
	global, err := g.ExtractGlobal(ctx, img)
	if err != nil {
		return Query{}, fmt.Errorf("hloc: global descriptor of %s: %w", name, err)
	}
	local, err := l.ExtractLocal(ctx, img)
	if err != nil {
		return Query{}, fmt.Errorf("hloc: local features of %s: %w", name, err)
	}
	if err := local.Validate(); err != nil {
		return Query{}, fmt.Errorf("hloc: local features of %s: %w", name, err)
	}
	return Query{Name: name, Global: global, Local: local}, nil
}

// VerificationQueries draws queries from the map: every image for day, the
// augmented copy (-id) of every image for night, day before night for
// VerifyAll. Images without a global descriptor or local features are
// skipped.
func VerificationQueries(ctx context.Context, db *mapdb.Database, mode VerifyMode) ([]Query, error) {
	ids, vecs := db.GlobalDescriptors()
	rows := make(map[mapdb.ImageID][]float32, len(ids))
	for i, id := range ids {
		rows[id] = vecs[i]
	}

	var signs []mapdb.ImageID
	if mode.Day() {
		signs = append(signs, 1)
	}
	if mode.Night() {
		signs = append(signs, -1)
	}

	var out []Query
	for _, sign := range signs {
		for _, img := range db.Images() {
			id := sign * img.ID
			global, ok := rows[id]
			if !ok {
				if global, ok = rows[id.Abs()]; !ok {
					continue
				}
			}

			local, err := db.LocalFeatures(ctx, id)
			if errors.Is(err, mapdb.ErrNoFeatures) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("hloc: features of image %d: %w", id, err)
			}

			q := Query{
				Name:        img.Name,
				Global:      global,
				Local:       local,
				Self:        id,
				Night:       id < 0,
				GroundTruth: img,
			}
			if q.Night {
				q.Name = mapdb.AugmentedPrefix + img.Name
			}
			if in, ok := db.Intrinsics(img.Name); ok {
				q.Intrinsics = &in
			}
			out = append(out, q)
		}
	}
	return out, nil
}

// ReadQueries pairs the entries of a global descriptor dump with the local
// feature dump by name, in the order of the global dump. intrinsics may be
// nil. A query missing from the local dump gets no features and fails to
// localize.
func ReadQueries(global, local, intrinsics io.Reader) ([]Query, error) {
	names, vecs, err := mapdb.ParseGlobalText(global)
	if err != nil {
		return nil, err
	}
	features, err := mapdb.ParseLocalText(local)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]mapdb.LocalFeatures, len(features))
	for _, f := range features {
		byName[f.Name] = f.Features
	}

	var calib map[string]mapdb.Intrinsics
	if intrinsics != nil {
		if calib, err = mapdb.ParseIntrinsics(intrinsics); err != nil {
			return nil, err
		}
	}

	out := make([]Query, len(names))
	for i, name := range names {
		out[i] = Query{Name: name, Global: vecs[i], Local: byName[name]}
		if in, ok := calib[name]; ok {
			out[i].Intrinsics = &in
		}
	}
	return out, nil
}

// AttachGroundTruth sets the ground truth of every query whose name matches
// one of images and returns how many matched. Names carrying the augmented
// prefix match the original image and are treated as night queries.
func AttachGroundTruth(queries []Query, images []mapdb.Image) int {
	byName := make(map[string]*mapdb.Image, len(images))
	for i := range images {
		byName[images[i].Name] = &images[i]
	}

	var n int
	for i := range queries {
		name, night := strings.CutPrefix(queries[i].Name, mapdb.AugmentedPrefix)
		img, ok := byName[name]
		if !ok {
			continue
		}
		queries[i].GroundTruth = img
		queries[i].Night = queries[i].Night || night
		n++
	}
	return n
}

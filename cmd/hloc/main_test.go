package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hupe1980/hloc"
	"github.com/hupe1980/hloc/mapdb"
	"github.com/hupe1980/hloc/pose"
	"github.com/hupe1980/hloc/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name    string
		loc     string
		want    storeLocation
		wantErr bool
	}{
		{"Local", "./maps/aachen", storeLocation{path: "./maps/aachen"}, false},
		{"S3", "s3://bucket/maps/aachen/", storeLocation{scheme: "s3", bucket: "bucket", prefix: "maps/aachen"}, false},
		{"S3NoPrefix", "s3://bucket", storeLocation{scheme: "s3", bucket: "bucket"}, false},
		{"MinIO", "minio://localhost:9000/maps/aachen", storeLocation{scheme: "minio", host: "localhost:9000", bucket: "maps", prefix: "aachen"}, false},
		{"MinIONoBucket", "minio://localhost:9000", storeLocation{}, true},
		{"UnknownScheme", "gs://bucket/x", storeLocation{}, true},
		{"Empty", "", storeLocation{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLocation(tt.loc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"frobnicate"}, &stdout, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "usage: hloc")
}

func TestRunConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"config"}, &stdout, &stderr))

	cfg, err := hloc.ParseConfig(&stdout)
	require.NoError(t, err)
	assert.Equal(t, hloc.DefaultConfig(), cfg)
}

// writeModel writes a COLMAP text model and feature dumps of four cameras
// observing the same points.
func writeModel(t *testing.T, model, features string) {
	t.Helper()

	const numPoints, numImages = 40, 4
	rng := testutil.NewRNG(5)
	cam := pose.NewCamera(mapdb.NewSimpleRadial(1024, 768, 800, 512, 384, 0))

	xyz := make([][3]float64, numPoints)
	for i := range xyz {
		xyz[i] = [3]float64{rng.Float64()*8 - 4, rng.Float64()*6 - 3, 9 + rng.Float64()*4}
	}
	descriptors := rng.UnitVectors(numPoints, 16)
	globals := rng.GaussianVectors(numImages, 8)

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

	var images, points, intrinsics strings.Builder
	var names []string
	var local []mapdb.NamedFeatures
	for i := range numImages {
		id := i + 1
		name := fmt.Sprintf("db/%d.jpg", id)
		p := pose.Pose{
			R: pose.RotationMatrix([3]float64{0.02 * float64(i), 0.05*float64(i) - 0.1, 0}),
			T: [3]float64{0.3*float64(i) - 0.6, 0.1 * float64(i), 0},
		}
		q := p.Quaternion()
		fmt.Fprintf(&images, "%d %s %s %s %s %s %s %s 1 %s\n", id,
			f(q.Real), f(q.Imag), f(q.Jmag), f(q.Kmag), f(p.T[0]), f(p.T[1]), f(p.T[2]), name)

		var nf mapdb.NamedFeatures
		nf.Name = name
		var obs []string
		for j := range xyz {
			px, ok := cam.Project(p.Apply(xyz[j]))
			require.True(t, ok)
			obs = append(obs, f(px[0]), f(px[1]), strconv.Itoa(j+1))
			nf.Features.Keypoints = append(nf.Features.Keypoints, px)
			nf.Features.Descriptors = append(nf.Features.Descriptors, descriptors[j])
		}
		images.WriteString(strings.Join(obs, " ") + "\n")
		fmt.Fprintf(&intrinsics, "%s SIMPLE_RADIAL 1024 768 800 512 384 0\n", name)

		names = append(names, name)
		local = append(local, nf)
	}
	for j, x := range xyz {
		fmt.Fprintf(&points, "%d %s %s %s 0 0 0 0", j+1, f(x[0]), f(x[1]), f(x[2]))
		for i := range numImages {
			fmt.Fprintf(&points, " %d %d", i+1, j)
		}
		points.WriteString("\n")
	}

	require.NoError(t, os.WriteFile(filepath.Join(model, mapdb.ImagesName), []byte(images.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(model, mapdb.PointsName), []byte(points.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(model, mapdb.IntrinsicsName), []byte(intrinsics.String()), 0o644))

	var global, localText bytes.Buffer
	require.NoError(t, mapdb.WriteGlobalText(&global, names, globals))
	require.NoError(t, mapdb.WriteLocalText(&localText, local))
	require.NoError(t, os.WriteFile(filepath.Join(features, "global.txt"), global.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(features, "local.txt"), localText.Bytes(), 0o644))
}

func TestPackAndLocalize(t *testing.T) {
	ctx := context.Background()
	model, features, mapDir, work := t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()
	writeModel(t, model, features)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(ctx, []string{"pack", "-model", model, "-features", features, "-map", mapDir, "-compression", "zstd"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "packed 4 images, 40 points")

	cfgPath := filepath.Join(work, "hloc.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
retrieval:
  strategy: exact
  k: 3
matching:
  metric: exact
  ratio: 0.8
pose:
  min_inliers: 12
verify: day
`), 0o644))

	results := filepath.Join(work, "results.txt")
	stdout.Reset()
	err := run(ctx, []string{
		"localize",
		"-config", cfgPath,
		"-map", mapDir,
		"-out", results,
		"-report", "-",
		"-json",
		"-log-level", "error",
		"-workers", "2",
	}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	data, err := os.ReadFile(results)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line, fmt.Sprintf("db/%d.jpg ", i+1)), line)
	}
	assert.Contains(t, stdout.String(), `"queries":4`)
	assert.Contains(t, stdout.String(), `"failures":0`)
}

func TestLocalizeRequiresQueries(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"localize", "-map", t.TempDir()}, &stdout, &stderr)
	assert.ErrorContains(t, err, "-queries")
}

func TestReadQueryDir(t *testing.T) {
	model, features := t.TempDir(), t.TempDir()
	writeModel(t, model, features)

	images, err := os.ReadFile(filepath.Join(model, mapdb.ImagesName))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(features, mapdb.ImagesName), images, 0o644))

	queries, err := readQueryDir(features)
	require.NoError(t, err)
	require.Len(t, queries, 4)
	for _, q := range queries {
		require.NotNil(t, q.GroundTruth)
		assert.Equal(t, q.Name, q.GroundTruth.Name)
		assert.Equal(t, 40, q.Local.Len())
		assert.Nil(t, q.Intrinsics)
	}
}

func TestCreateOutput(t *testing.T) {
	t.Run("Stdout", func(t *testing.T) {
		var stdout bytes.Buffer
		w, closeFn, err := createOutput("-", &stdout)
		require.NoError(t, err)
		_, err = fmt.Fprint(w, "line")
		require.NoError(t, err)
		assert.NoError(t, closeFn())
		assert.Equal(t, "line", stdout.String())
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "results.txt")
		w, closeFn, err := createOutput(path, nil)
		require.NoError(t, err)
		_, err = fmt.Fprint(w, "line")
		require.NoError(t, err)
		require.NoError(t, closeFn())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "line", string(data))

		// A failing close is reported, not swallowed.
		err = closeFn()
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrClosed))
		assert.Contains(t, err.Error(), path)
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		_, _, err := createOutput(filepath.Join(t.TempDir(), "missing", "out.txt"), nil)
		assert.Error(t, err)
	})
}

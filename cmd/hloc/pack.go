package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/hloc/internal/compress"
	"github.com/hupe1980/hloc/mapdb"
)

func runPack(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	model := fs.String("model", "", "COLMAP text model directory with images.txt, points3D.txt and optional intrinsics.txt")
	features := fs.String("features", "", "feature dump directory with global.txt and local.txt")
	mapLoc := fs.String("map", "", "output map location")
	compression := fs.String("compression", "lz4", "feature blob compression: lz4, zstd or none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" || *features == "" {
		return errors.New("-model and -features are required")
	}

	c, err := compress.Parse(*compression)
	if err != nil {
		return err
	}

	in, err := readPackInput(*model, *features)
	if err != nil {
		return err
	}
	in.Compression = c

	store, err := openStore(ctx, *mapLoc)
	if err != nil {
		return err
	}
	m, err := mapdb.Pack(ctx, store, in)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "packed %d images, %d points, %d global descriptors (%s)\n",
		m.NumImages, m.NumPoints, m.NumGlobal, m.Compression)
	return nil
}

func readPackInput(model, features string) (mapdb.PackInput, error) {
	var in mapdb.PackInput
	var err error

	if in.Images, err = os.ReadFile(filepath.Join(model, mapdb.ImagesName)); err != nil {
		return in, err
	}
	if in.Points, err = os.ReadFile(filepath.Join(model, mapdb.PointsName)); err != nil {
		return in, err
	}
	in.Intrinsics, err = os.ReadFile(filepath.Join(model, mapdb.IntrinsicsName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return in, err
	}

	global, err := os.Open(filepath.Join(features, "global.txt"))
	if err != nil {
		return in, err
	}
	defer global.Close()
	if in.GlobalNames, in.Global, err = mapdb.ParseGlobalText(global); err != nil {
		return in, err
	}

	local, err := os.Open(filepath.Join(features, "local.txt"))
	if err != nil {
		return in, err
	}
	defer local.Close()
	if in.Local, err = mapdb.ParseLocalText(local); err != nil {
		return in, err
	}
	return in, nil
}

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/hloc/blobstore"
	"github.com/hupe1980/hloc/blobstore/minio"
	"github.com/hupe1980/hloc/blobstore/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// storeLocation is a parsed map location.
type storeLocation struct {
	scheme string // "", "s3" or "minio"
	host   string // minio endpoint
	bucket string
	prefix string
	path   string // local directory
}

// parseLocation accepts a local directory, s3://bucket/prefix or
// minio://endpoint/bucket/prefix.
func parseLocation(loc string) (storeLocation, error) {
	if loc == "" {
		return storeLocation{}, fmt.Errorf("map location is required")
	}
	if !strings.Contains(loc, "://") {
		return storeLocation{path: loc}, nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return storeLocation{}, fmt.Errorf("map location: %w", err)
	}
	rest := strings.Trim(u.Path, "/")

	switch u.Scheme {
	case "s3":
		if u.Host == "" {
			return storeLocation{}, fmt.Errorf("map location %q: missing bucket", loc)
		}
		return storeLocation{scheme: "s3", bucket: u.Host, prefix: rest}, nil
	case "minio":
		bucket, prefix, _ := strings.Cut(rest, "/")
		if u.Host == "" || bucket == "" {
			return storeLocation{}, fmt.Errorf("map location %q: want minio://endpoint/bucket/prefix", loc)
		}
		return storeLocation{scheme: "minio", host: u.Host, bucket: bucket, prefix: prefix}, nil
	default:
		return storeLocation{}, fmt.Errorf("map location %q: unsupported scheme %q", loc, u.Scheme)
	}
}

// openStore opens the blob store at loc. S3 uses the default AWS credential
// chain; MinIO reads MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_INSECURE.
func openStore(ctx context.Context, loc string) (blobstore.BlobStore, error) {
	l, err := parseLocation(loc)
	if err != nil {
		return nil, err
	}

	switch l.scheme {
	case "s3":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return s3.NewStore(awss3.NewFromConfig(cfg), l.bucket, l.prefix), nil
	case "minio":
		client, err := miniogo.New(l.host, &miniogo.Options{
			Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
			Secure: os.Getenv("MINIO_INSECURE") == "",
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return minio.NewStore(client, l.bucket, l.prefix), nil
	default:
		return blobstore.NewLocalStore(l.path), nil
	}
}

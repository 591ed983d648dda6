// Package s3 provides a BlobStore backed by Amazon S3.
//
// Blobs are read with ranged GetObject calls and written with the S3 transfer
// manager, so large descriptor blobs are uploaded as multipart uploads.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "maps/aachen")
//	db, err := mapdb.Open(ctx, store)
package s3

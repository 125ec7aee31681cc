// Package s3 provides a BlobStore implementation backed by Amazon S3.
//
// Uploads go through the AWS SDK's managed uploader, which handles multipart
// uploads and retries. Reads use ranged GetObject requests.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := s3blob.NewStore(s3.NewFromConfig(cfg), "my-bucket", "photodex/")
//	archiver := backup.NewArchiver(store)
package s3

package s3util

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// maxDownloadBytes bounds an in-memory download.
const maxDownloadBytes = 64 << 20

// Download reads an S3 object fully into memory.
func Download(ctx context.Context, api ObjectAPI, bucket, key string) ([]byte, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading from S3")
	result, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, maxDownloadBytes)
	}
	return data, nil
}

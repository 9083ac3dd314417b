// Package s3util stores generated try-on images and thumbnails in S3 and
// derives presigned GET URLs for them.
package s3util

import (
	"bytes"
	"context"
	"fmt"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// DefaultURLExpiry is how long presigned image URLs stay valid.
const DefaultURLExpiry = 24 * time.Hour

// ObjectAPI is the subset of the S3 client used by ImageStore.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Presigner is the subset of the S3 presign client used by ImageStore.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ImageStore keeps image objects in one bucket.
type ImageStore struct {
	api       ObjectAPI
	presigner Presigner
	bucket    string
	expiry    time.Duration
}

// NewImageStore creates an ImageStore over an S3 client.
func NewImageStore(client *s3.Client, bucket string) *ImageStore {
	return NewImageStoreWith(client, s3.NewPresignClient(client), bucket, DefaultURLExpiry)
}

// NewImageStoreWith creates an ImageStore from explicit collaborators.
func NewImageStoreWith(api ObjectAPI, presigner Presigner, bucket string, expiry time.Duration) *ImageStore {
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return &ImageStore{api: api, presigner: presigner, bucket: bucket, expiry: expiry}
}

// Bucket returns the bucket name.
func (s *ImageStore) Bucket() string { return s.bucket }

// ResultImageKey is the object key of a result's generated image.
func ResultImageKey(userID, resultID, ext string) string {
	return fmt.Sprintf("tryon/%s/%s/generated.%s", userID, resultID, ext)
}

// ResultThumbnailKey is the object key of a result's thumbnail.
func ResultThumbnailKey(userID, resultID, ext string) string {
	return fmt.Sprintf("tryon/%s/%s/thumbnail.%s", userID, resultID, ext)
}

// Put uploads data under key with the project cost-allocation tag.
func (s *ImageStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	log.Debug().Str("bucket", s.bucket).Str("key", key).Int("bytes", len(data)).Msg("Uploading image to S3")

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}

	log.Info().Str("key", key).Int("bytes", len(data)).Msg("Image uploaded to S3")
	return nil
}

// URL returns a presigned GET URL for key.
func (s *ImageStore) URL(ctx context.Context, key string) (string, error) {
	return GeneratePresignedURL(ctx, s.presigner, s.bucket, key, s.expiry)
}

// Get downloads the object stored under key.
func (s *ImageStore) Get(ctx context.Context, key string) ([]byte, error) {
	return Download(ctx, s.api, s.bucket, key)
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presigner Presigner, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

// Package storage handles S3/MinIO operations for post media.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/spott-app/spott-backend/internal/config"
)

// mediaPrefix is the key prefix all post media lives under.
const mediaPrefix = "posts/"

// MediaStore stores and serves post media through S3/MinIO.
type MediaStore struct {
	client             *s3.Client
	presignClient      *s3.PresignClient
	bucket             string
	presignedURLExpiry time.Duration
	largeFileThreshold int64
}

// NewMediaStore creates a media store from the storage configuration.
func NewMediaStore(cfg *config.StorageConfig) (*MediaStore, error) {
	var endpointURL string
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		endpointURL = cfg.Endpoint
	} else {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + cfg.Endpoint
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		BaseEndpoint: aws.String(endpointURL),
		UsePathStyle: true, // Required for MinIO
	})

	presignClient := s3.NewPresignClient(client)

	presignedURLExpiry := cfg.PresignedURLExpiry
	if presignedURLExpiry == 0 {
		presignedURLExpiry = 15 * time.Minute
	}

	largeFileThreshold := cfg.LargeFileThreshold
	if largeFileThreshold == 0 {
		largeFileThreshold = 10 * 1024 * 1024
	}

	return &MediaStore{
		client:             client,
		presignClient:      presignClient,
		bucket:             cfg.Bucket,
		presignedURLExpiry: presignedURLExpiry,
		largeFileThreshold: largeFileThreshold,
	}, nil
}

// MediaKey builds the object key for a new media upload.
// Keys are grouped by uploader so a principal's media can be removed by prefix.
func MediaKey(principalID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%s%s/%s%s", mediaPrefix, principalID, uuid.New(), ext)
}

// Put uploads a media object and returns its storage key.
func (s *MediaStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put media %s: %w", key, err)
	}
	return nil
}

// DeleteByKeys deletes multiple media objects by their storage keys.
// Returns the count of deleted objects and total size freed in bytes.
func (s *MediaStore) DeleteByKeys(ctx context.Context, keys []string) (int, int64, error) {
	if len(keys) == 0 {
		return 0, 0, nil
	}

	var totalSize int64
	for _, key := range keys {
		headOutput, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			continue
		}
		if headOutput.ContentLength != nil {
			totalSize += *headOutput.ContentLength
		}
	}

	objectIdentifiers := make([]types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objectIdentifiers[i] = types.ObjectIdentifier{
			Key: aws.String(key),
		}
	}

	// S3 caps DeleteObjects at 1000 keys per request
	deleteCount := 0
	batchSize := 1000

	for i := 0; i < len(objectIdentifiers); i += batchSize {
		end := i + batchSize
		if end > len(objectIdentifiers) {
			end = len(objectIdentifiers)
		}

		batch := objectIdentifiers[i:end]
		output, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: batch,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return deleteCount, totalSize, fmt.Errorf("delete media objects: %w", err)
		}

		deleteCount += len(batch) - len(output.Errors)
	}

	return deleteCount, totalSize, nil
}

// DeleteByPrincipal deletes all media uploaded by one principal.
// Returns the count of deleted objects and total size freed in bytes.
func (s *MediaStore) DeleteByPrincipal(ctx context.Context, principalID uuid.UUID) (int, int64, error) {
	prefix := fmt.Sprintf("%s%s/", mediaPrefix, principalID)

	var keys []string
	var totalSize int64

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("list media objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
			if obj.Size != nil {
				totalSize += *obj.Size
			}
		}
	}

	if len(keys) == 0 {
		return 0, 0, nil
	}

	deleteCount, _, err := s.DeleteByKeys(ctx, keys)
	if err != nil {
		return deleteCount, totalSize, err
	}

	return deleteCount, totalSize, nil
}

// DeleteObject deletes a single media object.
func (s *MediaStore) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete media object %s: %w", key, err)
	}
	return nil
}

// GetPresignedURL generates a pre-signed URL for downloading a media object.
func (s *MediaStore) GetPresignedURL(ctx context.Context, key string) (string, time.Duration, error) {
	return s.GetPresignedURLWithExpiry(ctx, key, s.presignedURLExpiry)
}

// GetPresignedURLWithExpiry generates a pre-signed URL with a custom expiration.
func (s *MediaStore) GetPresignedURLWithExpiry(ctx context.Context, key string, expiry time.Duration) (string, time.Duration, error) {
	presignedReq, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", 0, fmt.Errorf("presign media url: %w", err)
	}

	return presignedReq.URL, expiry, nil
}

// IsLargeFile reports whether a media upload exceeds the large file threshold.
func (s *MediaStore) IsLargeFile(sizeBytes int64) bool {
	return sizeBytes >= s.largeFileThreshold
}

// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrR2NotConfigured = errors.New("R2 is not configured")

// R2Bucket uploads objects to one Cloudflare R2 bucket.
type R2Bucket struct {
	Client  *s3.Client
	Bucket  string
	BaseURL string
}

// NewR2FromEnv builds a bucket client from CLOUDFLARE_ACCOUNT_ID, R2_ACCESS_KEY_ID,
// R2_ACCESS_KEY_SECRET, R2_BUCKET_NAME and the optional CDN_BASE_URL.
func NewR2FromEnv(ctx context.Context) (*R2Bucket, error) {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	keyID := os.Getenv("R2_ACCESS_KEY_ID")
	secret := os.Getenv("R2_ACCESS_KEY_SECRET")
	bucket := os.Getenv("R2_BUCKET_NAME")
	if accountID == "" || keyID == "" || secret == "" || bucket == "" {
		return nil, ErrR2NotConfigured
	}
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(keyID, secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	return &R2Bucket{
		Client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}),
		Bucket:  bucket,
		BaseURL: GetEnv("CDN_BASE_URL", endpoint),
	}, nil
}

// Upload stores body under key and returns its public URL.
func (b *R2Bucket) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := b.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to R2: %w", key, err)
	}
	return fmt.Sprintf("%s/%s", b.BaseURL, key), nil
}

package layout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Media.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Media is a MediaStore that loads assets from an S3 bucket under an
// optional key prefix.
type S3Media struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Media creates an S3-backed media store.
func NewS3Media(client S3API, bucket, prefix string) *S3Media {
	return &S3Media{client: client, bucket: bucket, prefix: prefix}
}

// GetAsset implements MediaStore.
func (m *S3Media) GetAsset(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, ErrAssetNotFound
	}
	key := name
	if m.prefix != "" {
		key = path.Join(m.prefix, name)
	}
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("layout: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("layout: s3 read %s: %w", key, err)
	}
	return data, nil
}

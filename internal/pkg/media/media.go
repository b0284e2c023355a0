package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	appconfig "shotnews/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Store 定义对象存储接口：上传返回公开 URL，按 key 删除。
type Store interface {
	Upload(ctx context.Context, filename string, contentType string, body io.Reader) (url string, key string, err error)
	Delete(ctx context.Context, key string) error
}

// S3Store 基于 S3 兼容存储实现 Store。
type S3Store struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

// NewS3Store 创建 S3 客户端。
func NewS3Store(ctx context.Context, cfg *appconfig.MediaConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media bucket not configured")
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			// MinIO 等 S3 兼容存储：固定端点 + path-style 寻址
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	base := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if base == "" {
		if endpoint != "" {
			base = endpoint + "/" + cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &S3Store{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: base,
	}, nil
}

// Upload 上传文件并返回公开访问链接与对象 key。
//
// key 使用随机 UUID 加原始扩展名，避免覆盖同名文件。
func (s *S3Store) Upload(ctx context.Context, filename string, contentType string, body io.Reader) (string, string, error) {
	ext := strings.ToLower(path.Ext(filename))
	key := "news/" + uuid.NewString() + ext

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", "", fmt.Errorf("put object: %w", err)
	}

	return s.publicBaseURL + "/" + key, key, nil
}

// Delete 按 key 删除对象。
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

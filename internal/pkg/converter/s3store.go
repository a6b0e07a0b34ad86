package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
)

// S3Config holds the settings of the optional S3 result store
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
	// ResultTTL stamps Expires on uploads; 0 keeps objects until a bucket
	// lifecycle rule removes them.
	ResultTTL time.Duration
}

// LoadS3Config loads S3 configuration from environment variables
func LoadS3Config() (*S3Config, error) {
	cfg := &S3Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnvBool("S3_RESULTS_ENABLED", false),
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 results are enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 results are enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 results are enabled")
		}
	}
	return cfg, nil
}

func (c *S3Config) IsEnabled() bool {
	return c != nil && c.Enabled
}

// ObjectKey of a job result. Format: results/<id>
func (c *S3Config) ObjectKey(jobID string) string {
	return "results/" + jobID
}

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ResultStore keeps async job results in a bucket
type S3ResultStore struct {
	api    objectAPI
	config *S3Config
	now    func() time.Time
}

// NewS3ResultStore creates the S3 client and checks that the bucket is reachable
func NewS3ResultStore(cfg *S3Config) (*S3ResultStore, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("S3 result store is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	store := newS3ResultStore(client, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Infof("[Converter] Storing job results in S3 bucket %s", cfg.BucketName)
	return store, nil
}

func newS3ResultStore(api objectAPI, cfg *S3Config) *S3ResultStore {
	return &S3ResultStore{api: api, config: cfg, now: time.Now}
}

func (s *S3ResultStore) Put(ctx context.Context, id string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.config.BucketName),
		Key:           aws.String(s.config.ObjectKey(id)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if s.config.ResultTTL > 0 {
		input.Expires = aws.Time(s.now().Add(s.config.ResultTTL))
	}
	_, err := s.api.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload result %s: %w", id, err)
	}
	return nil
}

func (s *S3ResultStore) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.BucketName),
		Key:    aws.String(s.config.ObjectKey(id)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to download result %s: %w", id, err)
	}
	defer out.Body.Close()
	// Expires does not delete the object; the lifecycle rule does that
	// eventually, so stale results are hidden here.
	if out.Expires != nil && s.now().After(*out.Expires) {
		return nil, ErrJobNotFound
	}
	return io.ReadAll(out.Body)
}

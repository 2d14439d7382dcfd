package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config configures access to s3:// refs. Empty fields fall back to the
// default AWS credential chain and region.
type S3Config struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	UsePathStyle    bool   `json:"usePathStyle"`
}

type objectStore struct {
	cfg S3Config

	once   sync.Once
	client *s3.Client
	err    error
}

func newObjectStore(cfg S3Config) *objectStore {
	return &objectStore{cfg: cfg}
}

func (o *objectStore) read(ctx context.Context, r Ref) ([]byte, error) {
	if !r.IsS3() {
		data, err := os.ReadFile(r.Path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, r)
		}
		return data, err
	}
	c, err := o.s3(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, r)
		}
		return nil, fmt.Errorf("s3 get %s: %w", r, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (o *objectStore) s3(ctx context.Context) (*s3.Client, error) {
	o.once.Do(func() {
		var opts []func(*config.LoadOptions) error
		if o.cfg.Region != "" {
			opts = append(opts, config.WithRegion(o.cfg.Region))
		}
		if o.cfg.AccessKeyID != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(o.cfg.AccessKeyID, o.cfg.SecretAccessKey, "")))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			o.err = fmt.Errorf("load aws config: %w", err)
			return
		}
		o.client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if o.cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(o.cfg.Endpoint)
			}
			so.UsePathStyle = o.cfg.UsePathStyle
		})
	})
	return o.client, o.err
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

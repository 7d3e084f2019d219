package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"video-autopost/internal"
)

// Client stores the JSON documents of the autopost (hook index, metrics)
// and archives posted videos.
type Client interface {
	PutBytes(ctx context.Context, key string, b []byte, contentType string) error
	GetBytes(ctx context.Context, key string) ([]byte, string, error)

	ReadJSON(ctx context.Context, key string, out any) (bool, error)
	WriteJSON(ctx context.Context, key string, v any) error

	// ArchiveFile uploads a local file under the archive prefix and returns its key.
	ArchiveFile(ctx context.Context, localPath string) (string, error)
}

type s3Client struct {
	bucket        string
	jsonPrefix    string
	archivePrefix string
	api           *awss3.Client
	upl           *manager.Uploader
}

func New(cfg internal.S3Config) (Client, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: S3_BUCKET, S3_REGION and S3 keys are required", internal.ErrConfig)
	}
	endpoint := cfg.Endpoint
	forcePathStyle := endpoint != "" && !strings.Contains(endpoint, "amazonaws.com")

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = forcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})

	return &s3Client{
		bucket:        cfg.Bucket,
		jsonPrefix:    cfg.MetadataPrefix,
		archivePrefix: cfg.ArchivePrefix,
		api:           client,
		upl:           manager.NewUploader(client),
	}, nil
}

func (c *s3Client) PutBytes(ctx context.Context, key string, b []byte, contentType string) error {
	_, err := c.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      &c.bucket,
		Key:         &key,
		Body:        bytes.NewReader(b),
		ContentType: &contentType,
	})
	return err
}

func (c *s3Client) GetBytes(ctx context.Context, key string) ([]byte, string, error) {
	out, err := c.api.GetObject(ctx, &awss3.GetObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, "", errNotExist
		}
		return nil, "", err
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", err
	}
	return b, deref(out.ContentType), nil
}

func (c *s3Client) ReadJSON(ctx context.Context, key string, out any) (bool, error) {
	b, _, err := c.GetBytes(ctx, c.jsonKey(key))
	if err != nil {
		if errors.Is(err, errNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, json.Unmarshal(b, out)
}

func (c *s3Client) WriteJSON(ctx context.Context, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return c.PutBytes(ctx, c.jsonKey(key), b, "application/json")
}

func (c *s3Client) ArchiveFile(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := filepath.Base(localPath)
	key := path.Join(c.archivePrefix, name)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = c.upl.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      &c.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", name, err)
	}
	return key, nil
}

func (c *s3Client) jsonKey(key string) string {
	return path.Join(c.jsonPrefix, key)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var errNotExist = errors.New("not exist")

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cespare/xxhash/v2"
)

const s3ExpiresMetaKey = "expires"

// s3API is the subset of *s3.Client used by the cache.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Cache stores every entry as one object named by the xxhash digest of its key.
// Expiry is kept in the object metadata.
type s3Cache struct {
	client    s3API
	uploader  *s3manager.Uploader
	bucket    string
	prefix    string
	timeout   time.Duration
	partLimit int
}

func newS3Cache(client s3API, bucket string, prefix string) *s3Cache {
	return &s3Cache{
		client:    client,
		bucket:    bucket,
		prefix:    prefix,
		timeout:   30 * time.Second,
		partLimit: int(s3manager.DefaultUploadPartSize),
	}
}

func (c *s3Cache) objectKey(key string) string {
	return fmt.Sprintf("%s%016x", c.prefix, xxhash.Sum64String(key))
}

func (c *s3Cache) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *s3Cache) Has(key string) (bool, error) {
	ctx, cancel := c.context()
	defer cancel()

	output, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	if s3Expired(output.Metadata) {
		c.Delete(key)
		return false, nil
	}
	return true, nil
}

func (c *s3Cache) Get(key string) ([]byte, error) {
	ctx, cancel := c.context()
	defer cancel()

	output, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer output.Body.Close()

	if s3Expired(output.Metadata) {
		c.Delete(key)
		return nil, ErrExpired
	}
	return io.ReadAll(output.Body)
}

func (c *s3Cache) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := c.context()
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
		Body:   bytes.NewReader(value),
	}
	if ttl > 0 {
		input.Metadata = map[string]string{
			s3ExpiresMetaKey: strconv.FormatInt(time.Now().Add(ttl).Unix(), 10),
		}
	}
	if c.uploader != nil && len(value) > c.partLimit {
		_, err := c.uploader.Upload(ctx, input)
		return err
	}
	_, err := c.client.PutObject(ctx, input)
	return err
}

func (c *s3Cache) Delete(key string) error {
	ctx, cancel := c.context()
	defer cancel()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return err
	}
	return nil
}

// Flush removes every object under the cache prefix.
func (c *s3Cache) Flush() error {
	ctx := context.Background()
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		if len(page.Contents) == 0 {
			continue
		}
		objects := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			objects[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		_, err = c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func s3Expired(metadata map[string]string) bool {
	v, ok := metadata[s3ExpiresMetaKey]
	if !ok {
		return false
	}
	expiresAt, err := strconv.ParseInt(v, 10, 64)
	return err == nil && time.Now().Unix() > expiresAt
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

type s3CacheDriver struct{}

func (driver *s3CacheDriver) Open(bucket string, options url.Values) (Cache, error) {
	if bucket == "" {
		bucket = os.Getenv("S3_BUCKET")
	}
	if bucket == "" {
		return nil, errors.New("s3 cache: missing bucket")
	}
	region := options.Get("region")
	if region == "" {
		region = os.Getenv("S3_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		return nil, errors.New("s3 cache: missing region")
	}
	prefix := strings.TrimPrefix(options.Get("prefix"), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	timeout, err := parseDurationValue(options.Get("timeout"), 30*time.Second)
	if err != nil {
		return nil, errors.New("s3 cache: invalid timeout value")
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithHTTPClient(&http.Client{Timeout: timeout}),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 cache: %w", err)
	}
	endpoint := options.Get("endpoint")
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(endpoint)
			o.UsePathStyle = true
		}
	})

	partSize, err := parseInt64Value(options.Get("partSize"), s3manager.DefaultUploadPartSize)
	if err != nil || partSize < s3manager.MinUploadPartSize {
		return nil, errors.New("s3 cache: invalid partSize value")
	}

	c := newS3Cache(client, bucket, prefix)
	c.timeout = timeout
	c.partLimit = int(partSize)
	c.uploader = s3manager.NewUploader(client, func(u *s3manager.Uploader) {
		u.PartSize = partSize
	})
	return c, nil
}

func init() {
	RegisterCache("s3", &s3CacheDriver{})
}

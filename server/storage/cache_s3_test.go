package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data     []byte
	metadata map[string]string
}

type fakeS3 struct {
	lock    sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}}
}

func (f *fakeS3) object(key *string) (fakeObject, bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	obj, ok := f.objects[aws.ToString(key)]
	return obj, ok
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	obj, ok := f.object(params.Key)
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.object(params.Key)
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data)), Metadata: obj.metadata}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.objects[aws.ToString(params.Key)] = fakeObject{data: data, metadata: params.Metadata}
	f.lock.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.lock.Lock()
	delete(f.objects, aws.ToString(params.Key))
	f.lock.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.lock.Lock()
	for _, obj := range params.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	f.lock.Unlock()
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	output := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			output.Contents = append(output.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return output, nil
}

func TestS3Cache(t *testing.T) {
	client := newFakeS3()
	client.objects["other/keep"] = fakeObject{data: []byte("keep")}
	cache := newS3Cache(client, "bucket", "cache/")

	if ok, err := cache.Has("/_bundles?id=@a/x@1.0.0/widgets/x.js"); err != nil || ok {
		t.Fatalf("Has() = %v, %v", ok, err)
	}
	if _, err := cache.Get("missing"); err != ErrNotFound {
		t.Fatal("should be not found error, but", err)
	}

	key := "/_bundles?id=@a/x@1.0.0/widgets/x.js"
	if err := cache.Set(key, []byte("export default 1"), 0); err != nil {
		t.Fatal(err)
	}
	objKey := cache.objectKey(key)
	if !strings.HasPrefix(objKey, "cache/") || len(objKey) != len("cache/")+16 {
		t.Fatalf("unexpected object key %q", objKey)
	}
	value, err := cache.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != "export default 1" {
		t.Fatalf("invalid value %q", value)
	}

	if err := cache.Set("short", []byte("x"), time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	client.objects[cache.objectKey("short")].metadata[s3ExpiresMetaKey] = "1"
	if _, err := cache.Get("short"); err != ErrExpired {
		t.Fatal("should be expired error, but", err)
	}
	if ok, _ := cache.Has("short"); ok {
		t.Fatal("expired entry should be removed")
	}

	if err := cache.Flush(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := cache.Has(key); ok {
		t.Fatal("cache should be empty after flush")
	}
	if _, ok := client.objects["other/keep"]; !ok {
		t.Fatal("flush must not touch objects outside the prefix")
	}
}

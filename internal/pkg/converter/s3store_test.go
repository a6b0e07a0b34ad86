package converter

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectAPI struct {
	objects      map[string][]byte
	contentTypes map[string]string
	expires      map[string]*time.Time
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{objects: map[string][]byte{}, contentTypes: map[string]string{}, expires: map[string]*time.Time{}}
}

func (f *fakeObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.contentTypes[key] = aws.ToString(in.ContentType)
	f.expires[key] = in.Expires
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), Expires: f.expires[key]}, nil
}

func TestS3ResultStore(t *testing.T) {
	api := newFakeObjectAPI()
	store := newS3ResultStore(api, &S3Config{BucketName: "results-bucket", Enabled: true})
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job-9", []byte("webp-bytes"), "image/webp"))
	assert.Equal(t, "image/webp", api.contentTypes["results-bucket/results/job-9"])

	data, err := store.Get(ctx, "job-9")
	require.NoError(t, err)
	assert.Equal(t, []byte("webp-bytes"), data)

	_, err = store.Get(ctx, "job-404")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestS3ResultStoreExpiresResults(t *testing.T) {
	api := newFakeObjectAPI()
	store := newS3ResultStore(api, &S3Config{BucketName: "results-bucket", Enabled: true, ResultTTL: 30 * time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job-9", []byte("png-bytes"), "image/png"))
	expires := api.expires["results-bucket/results/job-9"]
	require.NotNil(t, expires)
	assert.Equal(t, now.Add(30*time.Minute), *expires)

	now = now.Add(29 * time.Minute)
	data, err := store.Get(ctx, "job-9")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "job-9")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestS3ResultStoreWithoutTTL(t *testing.T) {
	api := newFakeObjectAPI()
	store := newS3ResultStore(api, &S3Config{BucketName: "results-bucket", Enabled: true})

	require.NoError(t, store.Put(context.Background(), "job-1", []byte("x"), "image/png"))
	assert.Nil(t, api.expires["results-bucket/results/job-1"])
}

func TestLoadS3Config(t *testing.T) {
	t.Setenv("S3_RESULTS_ENABLED", "false")
	cfg, err := LoadS3Config()
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled())

	t.Setenv("S3_RESULTS_ENABLED", "true")
	t.Setenv("S3_ACCESS_KEY_ID", "")
	_, err = LoadS3Config()
	assert.Error(t, err)

	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_BUCKET_NAME", "bucket")
	cfg, err = LoadS3Config()
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "results/abc", cfg.ObjectKey("abc"))
}

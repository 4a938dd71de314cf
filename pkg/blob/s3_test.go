package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 implements s3API over a map, recording the keys it was asked for.
type fakeS3 struct {
	objects  map[string]string
	lastKeys []string
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKeys = append(f.lastKeys, *params.Key)
	content, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(content))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.lastKeys = append(f.lastKeys, *params.Key)
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[*params.Key] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestS3StoreGet(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"prompts/system.tmpl": "You are a coach.",
	}}
	store := &S3Store{client: fake, bucket: "arbor-prompts"}

	content, err := store.Get(context.Background(), "prompts/system.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "You are a coach.", content)
}

func TestS3StoreGetNotFound(t *testing.T) {
	store := &S3Store{client: &fakeS3{}, bucket: "arbor-prompts"}

	_, err := store.Get(context.Background(), "prompts/missing.tmpl")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3StorePutRoundTrip(t *testing.T) {
	fake := &fakeS3{}
	store := &S3Store{client: fake, bucket: "arbor-prompts"}
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "prompts/user.tmpl", "Hello {{.name}}"))

	content, err := store.Get(ctx, "prompts/user.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "Hello {{.name}}", content)
}

func TestS3StorePrefix(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"team-a/prompts/system.tmpl": "prefixed",
	}}
	store := &S3Store{client: fake, bucket: "arbor-prompts", prefix: "team-a"}

	content, err := store.Get(context.Background(), "prompts/system.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", content)
	assert.Equal(t, []string{"team-a/prompts/system.tmpl"}, fake.lastKeys)
}

func TestNewS3StoreValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3Store(ctx, nil)
	require.Error(t, err)

	_, err = NewS3Store(ctx, &S3Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutObject struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutObject) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	b, _ := io.ReadAll(params.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestS3WebhookArchive(t *testing.T) {
	client := &fakePutObject{}
	archive := NewS3WebhookArchiveWithClient(client, "courier-webhooks")
	archive.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	key, err := archive.Archive(context.Background(), "ups", "1Z 999/../x", []byte(`{"tracknumber":"1Z999"}`))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "webhooks/ups/2024/01/02/1Z_999____x_"), key)
	assert.True(t, strings.HasSuffix(key, ".json"))
	assert.Equal(t, "courier-webhooks", *client.input.Bucket)
	assert.Equal(t, "application/json", *client.input.ContentType)
	assert.Equal(t, `{"tracknumber":"1Z999"}`, client.body)
	assert.Equal(t, "1Z 999/../x", client.input.Metadata["tracking-number"])
}

func TestS3WebhookArchiveError(t *testing.T) {
	archive := NewS3WebhookArchiveWithClient(&fakePutObject{err: errors.New("access denied")}, "bucket")

	_, err := archive.Archive(context.Background(), "dhl", "123", []byte(`{}`))
	assert.ErrorContains(t, err, "access denied")
}

package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_ArchiveKey(t *testing.T) {
	a := newS3Archiver(NewMemoryStore(), &fakePutter{}, "bucket", "audit", nil)

	since := time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)
	key := a.ArchiveKey(since, since.Add(24*time.Hour))
	assert.Equal(t, "audit/2024/07/03/20240703T000000Z_20240704T000000Z.ndjson", key)
}

func TestS3Archiver_UploadsWindow(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 7, 3, 10, 0, 0, 0, time.UTC)
	appendAt(t, store, base.Add(-time.Hour), Event{Action: ActionViewed, ResourceType: ResourceDocument, ResourceID: "before"})
	appendAt(t, store, base, Event{Action: ActionViewed, ResourceType: ResourceDocument, ResourceID: "in-1"})
	appendAt(t, store, base.Add(time.Minute), Event{Action: ActionViewed, ResourceType: ResourceDocument, ResourceID: "in-2"})

	putter := &fakePutter{}
	a := newS3Archiver(store, putter, "bucket", "audit", nil)

	result, err := a.Archive(context.Background(), base, base.Add(30*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Entries)
	assert.Len(t, result.Checksum, 64)
	require.Len(t, putter.inputs, 1)

	input := putter.inputs[0]
	assert.Equal(t, "bucket", aws.ToString(input.Bucket))
	assert.Equal(t, result.Key, aws.ToString(input.Key))
	assert.Equal(t, "application/x-ndjson", aws.ToString(input.ContentType))
	assert.Equal(t, "2", input.Metadata["entry-count"])
	assert.Equal(t, result.Checksum, input.Metadata["checksum-sha256"])

	assert.Equal(t, 2, bytes.Count(putter.bodies[0], []byte("\n")))
	assert.Contains(t, string(putter.bodies[0]), `"resourceId":"in-1"`)
	assert.NotContains(t, string(putter.bodies[0]), `"resourceId":"before"`)

	count, err := store.Count(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count, "archival never removes entries")
}

func TestS3Archiver_EmptyWindowSkipsUpload(t *testing.T) {
	putter := &fakePutter{}
	a := newS3Archiver(NewMemoryStore(), putter, "bucket", "", nil)

	result, err := a.Archive(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.Entries)
	assert.Empty(t, putter.inputs)
}

func TestS3Archiver_UploadError(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	appendAt(t, store, now, Event{Action: ActionViewed, ResourceType: ResourceDocument, ResourceID: "doc"})

	a := newS3Archiver(store, &fakePutter{err: errors.New("access denied")}, "bucket", "", nil)
	_, err := a.Archive(context.Background(), now.Add(-time.Minute), now.Add(time.Minute))
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), NewMemoryStore(), ArchiveConfig{Region: "us-east-1"}, nil)
	assert.Error(t, err)
}

package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/dataroom/pkg/observability"
)

// ArchiveConfig locates the archive bucket
type ArchiveConfig struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// objectPutter is the part of the S3 client the archiver uses
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveResult describes one uploaded archive object
type ArchiveResult struct {
	Key      string `json:"key"`
	Entries  int    `json:"entries"`
	Checksum string `json:"checksum"`
}

// S3Archiver copies windows of the chain to S3 as NDJSON. Entries are never
// removed from the store.
type S3Archiver struct {
	store  Store
	client objectPutter
	bucket string
	prefix string
	logger *observability.Logger
}

// NewS3Archiver creates an archiver from cfg. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain.
func NewS3Archiver(ctx context.Context, store Store, cfg ArchiveConfig, logger *observability.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Archiver(store, client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Archiver(store Store, client objectPutter, bucket, prefix string, logger *observability.Logger) *S3Archiver {
	if logger == nil {
		logger = observability.Discard()
	}
	return &S3Archiver{
		store:  store,
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// ArchiveKey names the object holding entries created in [since, until]
func (a *S3Archiver) ArchiveKey(since, until time.Time) string {
	since, until = since.UTC(), until.UTC()
	name := fmt.Sprintf("%s_%s.ndjson", since.Format("20060102T150405Z"), until.Format("20060102T150405Z"))
	return path.Join(a.prefix, since.Format("2006/01/02"), name)
}

// Archive uploads every entry created in [since, until] as one NDJSON
// object. An empty window uploads nothing.
func (a *S3Archiver) Archive(ctx context.Context, since, until time.Time) (ArchiveResult, error) {
	key := a.ArchiveKey(since, until)

	ctx, span := writerTracer.Start(ctx, "S3.ArchiveAudit",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	var buf bytes.Buffer
	count, err := Export(ctx, a.store, &buf, FormatNDJSON, Filter{Since: since, Until: until})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to export audit window")
		return ArchiveResult{}, err
	}
	if count == 0 {
		return ArchiveResult{Key: key}, nil
	}

	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(FormatNDJSON.ContentType()),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
			"entry-count":     strconv.Itoa(count),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return ArchiveResult{}, fmt.Errorf("failed to upload audit archive: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":     key,
		"entries": count,
	}).Info("Archived audit entries")

	return ArchiveResult{Key: key, Entries: count, Checksum: checksum}, nil
}

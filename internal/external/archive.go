package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"tasseo/internal/types"
)

// S3API is the subset of *s3.Client used by PhotoArchive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ReadingRecord is the archived result of one reading.
type ReadingRecord struct {
	JobID     string         `json:"job_id"`
	UserID    string         `json:"user_id"`
	Kind      string         `json:"kind"`
	PhotoKey  string         `json:"photo_key,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Reply     string         `json:"reply"`
	Usage     types.LLMUsage `json:"usage"`
	CreatedAt time.Time      `json:"created_at"`
}

// PhotoArchive stores cup photos and zstd-compressed reading records in S3.
// Keys derive from the job ID, so a retried job overwrites its own objects.
type PhotoArchive struct {
	client  S3API
	bucket  string
	encoder *zstd.Encoder
}

// NewPhotoArchive creates a PhotoArchive writing to bucket.
func NewPhotoArchive(client S3API, bucket string) (*PhotoArchive, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("archive: zstd encoder: %w", err)
	}
	return &PhotoArchive{client: client, bucket: bucket, encoder: enc}, nil
}

// PhotoKey is the object key of the photo processed by jobID.
func PhotoKey(userID, jobID string) string {
	return fmt.Sprintf("photos/%s/%s.jpg", userID, jobID)
}

// ReadingKey is the object key of the reading record of jobID.
func ReadingKey(userID, jobID string) string {
	return fmt.Sprintf("readings/%s/%s.json.zst", userID, jobID)
}

// PutPhoto uploads a photo and returns its key.
func (a *PhotoArchive) PutPhoto(ctx context.Context, userID, jobID string, data []byte, contentType string) (string, error) {
	key := PhotoKey(userID, jobID)
	if contentType == "" {
		contentType = "image/jpeg"
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"job-id": jobID},
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStorage, "failed to archive photo", err)
	}
	return key, nil
}

// PutReading uploads rec as compressed JSON and returns its key.
func (a *PhotoArchive) PutReading(ctx context.Context, rec ReadingRecord) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode reading record", err)
	}
	key := ReadingKey(rec.UserID, rec.JobID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(a.encoder.EncodeAll(raw, nil)),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStorage, "failed to archive reading", err)
	}
	return key, nil
}

// DecodeReading decompresses an archived reading record.
func DecodeReading(data []byte) (*ReadingRecord, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("archive: zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: decompress reading: %w", err)
	}
	var rec ReadingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("archive: decode reading: %w", err)
	}
	return &rec, nil
}

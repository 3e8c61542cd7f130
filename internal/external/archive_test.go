package external

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tasseo/internal/types"
)

type fakeS3 struct {
	puts map[string]*s3.PutObjectInput
	body map[string][]byte
	err  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{puts: make(map[string]*s3.PutObjectInput), body: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[*in.Key] = in
	f.body[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestPhotoArchive_PutPhoto(t *testing.T) {
	s3c := newFakeS3()
	archive, err := NewPhotoArchive(s3c, "cups")
	if err != nil {
		t.Fatal(err)
	}

	key, err := archive.PutPhoto(context.Background(), "u-1", "job-1", []byte("JPEG"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "photos/u-1/job-1.jpg" {
		t.Errorf("unexpected key %s", key)
	}
	in := s3c.puts[key]
	if *in.Bucket != "cups" || *in.ContentType != "image/jpeg" || string(s3c.body[key]) != "JPEG" {
		t.Errorf("unexpected put %+v", in)
	}
}

func TestPhotoArchive_PutReadingIsCompressed(t *testing.T) {
	s3c := newFakeS3()
	archive, err := NewPhotoArchive(s3c, "cups")
	if err != nil {
		t.Fatal(err)
	}
	rec := ReadingRecord{
		JobID:     "job-1",
		UserID:    "u-1",
		Kind:      "photo",
		Reply:     "A bird in flight.",
		Usage:     types.LLMUsage{InputTokens: 10, OutputTokens: 5},
		CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	key, err := archive.PutReading(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "readings/u-1/job-1.json.zst" || *s3c.puts[key].ContentEncoding != "zstd" {
		t.Errorf("unexpected object %s", key)
	}

	got, err := DecodeReading(s3c.body[key])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}
}

func TestPhotoArchive_StorageError(t *testing.T) {
	s3c := newFakeS3()
	s3c.err = errors.New("access denied")
	archive, _ := NewPhotoArchive(s3c, "cups")

	_, err := archive.PutPhoto(context.Background(), "u-1", "job-1", []byte("x"), "image/png")
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamStorage {
		t.Fatalf("expected upstream_storage_unavailable, got %v", err)
	}
}

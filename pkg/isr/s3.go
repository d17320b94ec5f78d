package isr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store persists rendered pages in an S3 bucket so a fleet of servers can
// share one incremental cache.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	store := isr.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "rendered/")
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed store. prefix is prepended to every object
// key (e.g. "rendered/").
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(key string) string {
	return s.prefix + url.PathEscape(key)
}

// Get fetches the entry for key. A missing object is reported as a nil
// entry, not an error.
func (s *S3Store) Get(ctx context.Context, key string) (*Entry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return nil, nil
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("isr: reading cached page: %w", err)
	}

	entry := &Entry{Status: http.StatusOK, Body: body}
	if v, ok := out.Metadata["weft-status"]; ok {
		if status, err := strconv.Atoi(v); err == nil {
			entry.Status = status
		}
	}
	if v, ok := out.Metadata["weft-rendered-at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			entry.RenderedAt = t
		}
	}
	if v, ok := out.Metadata["weft-header"]; ok {
		var h http.Header
		if err := json.Unmarshal([]byte(v), &h); err == nil {
			entry.Header = h
		}
	}
	return entry, nil
}

// Put stores entry under key.
func (s *S3Store) Put(ctx context.Context, key string, entry *Entry) error {
	metadata := map[string]string{
		"weft-status":      strconv.Itoa(entry.Status),
		"weft-rendered-at": entry.RenderedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(entry.Header) > 0 {
		raw, err := json.Marshal(entry.Header)
		if err != nil {
			return fmt.Errorf("isr: encoding cached headers: %w", err)
		}
		metadata["weft-header"] = string(raw)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(key)),
		Body:        bytes.NewReader(entry.Body),
		ContentType: aws.String("text/html; charset=utf-8"),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("isr: s3 put failed: %w", err)
	}
	return nil
}

// Package store adapts the object storage client to the uniform result
// shape the surrounding application consumes. Every failure becomes a typed
// result; errors never escape as panics.
package store

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/einyx/objstream/internal/config"
	"github.com/einyx/objstream/pkg/s3"
)

// Result is the uniform outcome of every store operation.
type Result struct {
	OK      bool
	Status  int
	Code    string
	Message string

	URL       string
	Key       string
	UploadID  string
	ETag      string
	RequestID string
}

// Store performs object operations against one configured bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	expiry time.Duration
	log    *logrus.Entry
}

// New builds a store over client using the configured bucket, key prefix and
// presign expiry.
func New(client *s3.Client, cfg config.StoreConfig) *Store {
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = s3.DefaultExpiry
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		expiry: expiry,
		log: logrus.WithFields(logrus.Fields{
			"component": "store",
			"bucket":    cfg.Bucket,
		}),
	}
}

func (s *Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

// Put uploads reader under key. Pass size -1 when the length is unknown.
func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64) Result {
	object := s.objectKey(key)
	etag, err := s.client.PutObject(ctx, s.bucket, object, reader, size, s3.PutObjectOptions{})
	if err != nil {
		return s.failure("put", key, err)
	}
	return Result{OK: true, Status: http.StatusOK, Key: object, ETag: etag}
}

// Initiate starts a multipart upload for key and returns its upload ID.
func (s *Store) Initiate(ctx context.Context, key string) Result {
	object := s.objectKey(key)
	uploadID, err := s.client.NewMultipartUpload(ctx, s.bucket, object, s3.PutObjectOptions{})
	if err != nil {
		return s.failure("initiate", key, err)
	}
	return Result{OK: true, Status: http.StatusOK, Key: object, UploadID: uploadID}
}

// UploadPart uploads one part of a previously initiated upload.
func (s *Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int,
	reader io.Reader, size int64) Result {

	object := s.objectKey(key)
	etag, err := s.client.UploadPart(ctx, s.bucket, object, uploadID, partNumber, reader, size)
	if err != nil {
		return s.failure("uploadPart", key, err)
	}
	return Result{OK: true, Status: http.StatusOK, Key: object, UploadID: uploadID, ETag: etag}
}

// Complete finishes a multipart upload from the collected part ETags, given
// in part order starting at 1. The declared size and checksum are accepted
// for callers that track them but are not sent; the service derives both
// from the parts.
func (s *Store) Complete(ctx context.Context, key, uploadID string, size int64,
	checksum string, etags []string) Result {

	object := s.objectKey(key)
	parts := make([]s3.CompletedPart, len(etags))
	for i, etag := range etags {
		parts[i] = s3.CompletedPart{PartNumber: i + 1, ETag: etag}
	}

	etag, err := s.client.CompleteMultipartUpload(ctx, s.bucket, object, uploadID, parts)
	if err != nil {
		return s.failure("complete", key, err)
	}
	return Result{OK: true, Status: http.StatusOK, Key: object, UploadID: uploadID, ETag: etag}
}

// PresignedGet returns a time-limited download URL for key. A zero expiry
// uses the configured default.
func (s *Store) PresignedGet(ctx context.Context, key string, expiry time.Duration) Result {
	if expiry <= 0 {
		expiry = s.expiry
	}
	object := s.objectKey(key)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, object, expiry, nil)
	if err != nil {
		return s.failure("presignedGet", key, err)
	}
	return Result{OK: true, Status: http.StatusOK, Key: object, URL: u.String()}
}

// Delete removes key. Deleting a key that does not exist succeeds.
func (s *Store) Delete(ctx context.Context, key string) Result {
	object := s.objectKey(key)
	if err := s.client.RemoveObject(ctx, s.bucket, object, s3.RemoveObjectOptions{}); err != nil {
		return s.failure("delete", key, err)
	}
	return Result{OK: true, Status: http.StatusNoContent, Key: object}
}

// failure maps any client error to a non-OK result carrying the service
// error details when they exist.
func (s *Store) failure(op, key string, err error) Result {
	resp := s3.ToErrorResponse(err)
	result := Result{
		OK:        false,
		Status:    resp.StatusCode,
		Code:      resp.Code,
		Message:   err.Error(),
		Key:       s.objectKey(key),
		RequestID: resp.RequestID,
	}
	if result.Status == 0 {
		result.Status = http.StatusInternalServerError
	}

	s.log.WithFields(logrus.Fields{
		"operation": op,
		"key":       key,
		"status":    result.Status,
		"code":      result.Code,
		"error":     err,
	}).Warn("Store operation failed")

	return result
}

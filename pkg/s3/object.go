package s3

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

// PutObjectOptions tunes a single upload.
type PutObjectOptions struct {
	// ContentType defaults to application/octet-stream.
	ContentType string

	// UserMetadata is stored with the object as x-amz-meta-* headers.
	UserMetadata map[string]string
}

func (o PutObjectOptions) headers() http.Header {
	h := make(http.Header)
	for k, v := range o.UserMetadata {
		h.Set("x-amz-meta-"+k, v)
	}
	return h
}

// PutObject uploads reader as bucket/object. A non-negative size uploads
// exactly that many bytes; pass -1 for an unknown length. Small payloads go
// up in a single PUT; larger ones use a multipart upload that is aborted on
// any failure before the original error is returned.
func (c *Client) PutObject(ctx context.Context, bucket, object string, reader io.Reader,
	size int64, opts PutObjectOptions) (string, error) {

	if err := checkBucketName(bucket); err != nil {
		return "", err
	}
	if err := checkObjectName(object); err != nil {
		return "", err
	}

	region, err := c.getRegion(ctx, bucket, "")
	if err != nil {
		return "", err
	}

	partSize, partCount, err := optimalPartSize(size)
	if err != nil {
		return "", err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	extraHeaders := opts.headers()

	if partCount == 1 {
		buf := make([]byte, size)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return "", fmt.Errorf("short read of object data: %w", err)
		}
		return c.putObjectSingle(ctx, bucket, object, region, contentType, extraHeaders, buf)
	}

	if partCount > 0 {
		return c.putObjectKnownSize(ctx, bucket, object, region, contentType, extraHeaders,
			reader, size, partSize, partCount)
	}
	return c.putObjectUnknownSize(ctx, bucket, object, region, contentType, extraHeaders,
		reader, partSize)
}

// putObjectSingle issues one plain PUT for payloads at or below the part
// size.
func (c *Client) putObjectSingle(ctx context.Context, bucket, object, region, contentType string,
	extraHeaders http.Header, data []byte) (string, error) {

	h := cloneHeader(extraHeaders)
	h.Set("Content-Type", contentType)

	resp, err := c.execute(ctx, http.MethodPut, requestMetadata{
		bucket:  bucket,
		object:  object,
		region:  region,
		headers: h,
		body:    bytes.NewReader(data),
		length:  int64(len(data)),
	})
	if err != nil {
		return "", err
	}
	closeResponse(resp)

	c.log.WithFields(logrus.Fields{
		"bucket": bucket,
		"object": object,
		"size":   len(data),
	}).Debug("Object uploaded")

	return trimETag(resp.Header.Get("ETag")), nil
}

// putObjectKnownSize splits a known-length source into partSize chunks with
// an exact final part.
func (c *Client) putObjectKnownSize(ctx context.Context, bucket, object, region, contentType string,
	extraHeaders http.Header, reader io.Reader, size, partSize int64, partCount int) (string, error) {

	uploadID, err := c.newMultipartUpload(ctx, bucket, object, region, contentType, extraHeaders)
	if err != nil {
		return "", err
	}

	parts := make([]completePart, 0, partCount)
	remaining := size
	buf := make([]byte, partSize)

	for partNumber := 1; partNumber <= partCount; partNumber++ {
		chunk := partSize
		if remaining < chunk {
			chunk = remaining
		}
		if _, err := io.ReadFull(reader, buf[:chunk]); err != nil {
			return "", c.abortAndRaise(ctx, bucket, object, region, uploadID,
				fmt.Errorf("short read of part %d: %w", partNumber, err))
		}

		etag, err := c.uploadPart(ctx, bucket, object, region, uploadID,
			partNumber, bytes.NewReader(buf[:chunk]), chunk)
		if err != nil {
			return "", c.abortAndRaise(ctx, bucket, object, region, uploadID, err)
		}
		parts = append(parts, completePart{PartNumber: partNumber, ETag: etag})
		remaining -= chunk
	}

	etag, err := c.completeMultipartUpload(ctx, bucket, object, region, uploadID, parts)
	if err != nil {
		return "", c.abortAndRaise(ctx, bucket, object, region, uploadID, err)
	}
	return etag, nil
}

// putObjectUnknownSize streams a source of unknown length. Each round reads
// one byte beyond the part size; coming up short means the part in hand is
// the last one. Sources that fit in a single part never open a multipart
// upload at all.
func (c *Client) putObjectUnknownSize(ctx context.Context, bucket, object, region, contentType string,
	extraHeaders http.Header, reader io.Reader, partSize int64) (string, error) {

	buf := make([]byte, partSize+1)
	carry := 0
	uploadID := ""
	var parts []completePart

	for partNumber := 1; ; partNumber++ {
		n, exhausted, err := readFull(reader, buf[carry:])
		if err != nil {
			return "", c.abortAndRaise(ctx, bucket, object, region, uploadID,
				fmt.Errorf("failed to read part %d: %w", partNumber, err))
		}
		total := carry + n
		lastPart := exhausted || total <= int(partSize)

		if partNumber == 1 && lastPart {
			return c.putObjectSingle(ctx, bucket, object, region, contentType, extraHeaders, buf[:total])
		}

		if uploadID == "" {
			uploadID, err = c.newMultipartUpload(ctx, bucket, object, region, contentType, extraHeaders)
			if err != nil {
				return "", err
			}
		}

		if partNumber > MaxMultipartCount {
			return "", c.abortAndRaise(ctx, bucket, object, region, uploadID,
				InvalidArgumentError{Message: fmt.Sprintf(
					"source needs more than %d parts; total size exceeds the multipart limit",
					MaxMultipartCount)})
		}

		chunk := total
		if chunk > int(partSize) {
			chunk = int(partSize)
		}

		etag, err := c.uploadPart(ctx, bucket, object, region, uploadID,
			partNumber, bytes.NewReader(buf[:chunk]), int64(chunk))
		if err != nil {
			return "", c.abortAndRaise(ctx, bucket, object, region, uploadID, err)
		}
		parts = append(parts, completePart{PartNumber: partNumber, ETag: etag})

		if lastPart {
			break
		}
		carry = total - chunk
		copy(buf, buf[chunk:total])
	}

	etag, err := c.completeMultipartUpload(ctx, bucket, object, region, uploadID, parts)
	if err != nil {
		return "", c.abortAndRaise(ctx, bucket, object, region, uploadID, err)
	}
	return etag, nil
}

// FPutObject uploads a local file, detecting its content type from the file
// contents unless one is given.
func (c *Client) FPutObject(ctx context.Context, bucket, object, filePath string, opts PutObjectOptions) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	if opts.ContentType == "" {
		if mt, err := mimetype.DetectFile(filePath); err == nil {
			opts.ContentType = mt.String()
		}
	}

	return c.PutObject(ctx, bucket, object, f, info.Size(), opts)
}

// GetObjectOptions selects a version or a byte range.
type GetObjectOptions struct {
	VersionID string

	// Offset and Length select a byte range. Length 0 with a non-zero
	// Offset reads to the end.
	Offset int64
	Length int64
}

// GetObject streams an object's content. The caller must close the returned
// reader; until then the underlying connection stays busy.
func (c *Client) GetObject(ctx context.Context, bucket, object string, opts GetObjectOptions) (io.ReadCloser, ObjectInfo, error) {
	if err := checkBucketName(bucket); err != nil {
		return nil, ObjectInfo{}, err
	}
	if err := checkObjectName(object); err != nil {
		return nil, ObjectInfo{}, err
	}

	headers := make(http.Header)
	switch {
	case opts.Length > 0:
		headers.Set("Range", fmt.Sprintf("bytes=%d-%d", opts.Offset, opts.Offset+opts.Length-1))
	case opts.Offset > 0:
		headers.Set("Range", fmt.Sprintf("bytes=%d-", opts.Offset))
	}

	var query url.Values
	if opts.VersionID != "" {
		query = url.Values{"versionId": {opts.VersionID}}
	}

	resp, err := c.executeMethod(ctx, http.MethodGet, requestMetadata{
		bucket:  bucket,
		object:  object,
		query:   query,
		headers: headers,
	})
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	return resp.Body, objectInfoFromHeaders(object, resp.Header), nil
}

// StatObject fetches object metadata without its content.
func (c *Client) StatObject(ctx context.Context, bucket, object string, opts GetObjectOptions) (ObjectInfo, error) {
	if err := checkBucketName(bucket); err != nil {
		return ObjectInfo{}, err
	}
	if err := checkObjectName(object); err != nil {
		return ObjectInfo{}, err
	}

	var query url.Values
	if opts.VersionID != "" {
		query = url.Values{"versionId": {opts.VersionID}}
	}

	resp, err := c.executeHead(ctx, requestMetadata{
		bucket: bucket,
		object: object,
		query:  query,
	})
	if err != nil {
		return ObjectInfo{}, err
	}

	return objectInfoFromHeaders(object, resp.Header), nil
}

func objectInfoFromHeaders(object string, h http.Header) ObjectInfo {
	info := ObjectInfo{
		Key:         object,
		ETag:        trimETag(h.Get("ETag")),
		ContentType: h.Get("Content-Type"),
		VersionID:   h.Get("x-amz-version-id"),
	}
	if v := h.Get("Content-Length"); v != "" {
		info.Size, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := h.Get("Last-Modified"); v != "" {
		info.LastModified, _ = time.Parse(http.TimeFormat, v)
	}
	return info
}

// RemoveObjectOptions tunes a single delete.
type RemoveObjectOptions struct {
	VersionID string

	// GovernanceBypass deletes through a governance-mode retention lock.
	GovernanceBypass bool
}

// RemoveObject deletes one object or object version.
func (c *Client) RemoveObject(ctx context.Context, bucket, object string, opts RemoveObjectOptions) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}
	if err := checkObjectName(object); err != nil {
		return err
	}

	var query url.Values
	if opts.VersionID != "" {
		query = url.Values{"versionId": {opts.VersionID}}
	}
	var headers http.Header
	if opts.GovernanceBypass {
		headers = make(http.Header)
		headers.Set("x-amz-bypass-governance-retention", "true")
	}

	resp, err := c.executeMethod(ctx, http.MethodDelete, requestMetadata{
		bucket:  bucket,
		object:  object,
		query:   query,
		headers: headers,
	})
	if err != nil {
		return err
	}
	closeResponse(resp)
	return nil
}

// RemoveObjects bulk-deletes up to 1000 keys in one request and returns the
// per-key failures. A nil slice means every key was deleted.
func (c *Client) RemoveObjects(ctx context.Context, bucket string, keys []string) ([]DeleteError, error) {
	if err := checkBucketName(bucket); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	if len(keys) > 1000 {
		return nil, InvalidArgumentError{Message: "at most 1000 keys per bulk delete"}
	}

	doc := deleteRequest{Quiet: true}
	for _, key := range keys {
		if err := checkObjectName(key); err != nil {
			return nil, err
		}
		doc.Objects = append(doc.Objects, deleteObject{Key: key})
	}

	resp, err := c.executeMethod(ctx, http.MethodPost, requestMetadata{
		bucket:  bucket,
		query:   url.Values{"delete": {""}},
		xmlBody: doc,
	})
	if err != nil {
		return nil, err
	}
	defer closeResponse(resp)

	var result bulkDeleteResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, InvalidResponseError{StatusCode: resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type")}
	}
	return result.Errors, nil
}

// CopyObject copies srcBucket/srcObject to bucket/object server-side in a
// single request. Sources above the single-copy limit need Compose.
func (c *Client) CopyObject(ctx context.Context, bucket, object, srcBucket, srcObject string) (ObjectInfo, error) {
	for _, check := range []error{
		checkBucketName(bucket), checkObjectName(object),
		checkBucketName(srcBucket), checkObjectName(srcObject),
	} {
		if check != nil {
			return ObjectInfo{}, check
		}
	}

	headers := make(http.Header)
	headers.Set("x-amz-copy-source", encodePath("/"+srcBucket+"/"+srcObject))

	resp, err := c.executeMethod(ctx, http.MethodPut, requestMetadata{
		bucket:  bucket,
		object:  object,
		headers: headers,
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	defer closeResponse(resp)

	var result copyObjectResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ObjectInfo{}, InvalidResponseError{StatusCode: resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type")}
	}

	return ObjectInfo{
		Key:          object,
		ETag:         trimETag(result.ETag),
		LastModified: result.LastModified,
	}, nil
}

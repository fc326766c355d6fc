package s3

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// newMultipartUpload starts a multipart upload and returns its upload ID.
func (c *Client) newMultipartUpload(ctx context.Context, bucket, object, region, contentType string, headers http.Header) (string, error) {
	if contentType == "" {
		contentType = defaultContentType
	}
	h := cloneHeader(headers)
	h.Set("Content-Type", contentType)

	resp, err := c.execute(ctx, http.MethodPost, requestMetadata{
		bucket:  bucket,
		object:  object,
		region:  region,
		query:   url.Values{"uploads": {""}},
		headers: h,
	})
	if err != nil {
		return "", err
	}
	defer closeResponse(resp)

	var result initiateMultipartUploadResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", InvalidResponseError{StatusCode: resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type")}
	}

	c.log.WithFields(logrus.Fields{
		"bucket":   bucket,
		"object":   object,
		"uploadID": result.UploadID,
	}).Debug("Multipart upload initiated")

	return result.UploadID, nil
}

// uploadPart uploads one part and returns its ETag.
func (c *Client) uploadPart(ctx context.Context, bucket, object, region, uploadID string,
	partNumber int, body io.ReadSeeker, size int64) (string, error) {

	query := url.Values{}
	query.Set("partNumber", strconv.Itoa(partNumber))
	query.Set("uploadId", uploadID)

	resp, err := c.execute(ctx, http.MethodPut, requestMetadata{
		bucket: bucket,
		object: object,
		region: region,
		query:  query,
		body:   body,
		length: size,
	})
	if err != nil {
		return "", err
	}
	closeResponse(resp)

	return trimETag(resp.Header.Get("ETag")), nil
}

// uploadPartCopy copies a byte range of an existing object into a part of an
// open multipart upload. sourceRange is empty to copy the whole source.
func (c *Client) uploadPartCopy(ctx context.Context, bucket, object, region, uploadID string,
	partNumber int, sourceBucket, sourceObject, sourceRange string) (string, error) {

	query := url.Values{}
	query.Set("partNumber", strconv.Itoa(partNumber))
	query.Set("uploadId", uploadID)

	headers := make(http.Header)
	headers.Set("x-amz-copy-source", encodePath("/"+sourceBucket+"/"+sourceObject))
	if sourceRange != "" {
		headers.Set("x-amz-copy-source-range", sourceRange)
	}

	resp, err := c.execute(ctx, http.MethodPut, requestMetadata{
		bucket:  bucket,
		object:  object,
		region:  region,
		query:   query,
		headers: headers,
	})
	if err != nil {
		return "", err
	}
	defer closeResponse(resp)

	var result copyObjectResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", InvalidResponseError{StatusCode: resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type")}
	}
	return trimETag(result.ETag), nil
}

// completeMultipartUpload finishes an upload. Parts must be in ascending
// part-number order. The service may answer 200 with an error document, so
// the body is tried against the error schema before the success schema;
// a body matching neither completes without an ETag.
func (c *Client) completeMultipartUpload(ctx context.Context, bucket, object, region, uploadID string,
	parts []completePart) (string, error) {

	query := url.Values{}
	query.Set("uploadId", uploadID)

	resp, err := c.execute(ctx, http.MethodPost, requestMetadata{
		bucket:  bucket,
		object:  object,
		region:  region,
		query:   query,
		xmlBody: completeMultipartUpload{Parts: parts},
	})
	if err != nil {
		return "", err
	}
	defer closeResponse(resp)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", InternalError{Message: "failed to read complete response: " + err.Error()}
	}

	var errDoc ErrorResponse
	if xml.Unmarshal(bodyBytes, &errDoc) == nil && errDoc.Code != "" {
		if errDoc.BucketName == "" {
			errDoc.BucketName = bucket
		}
		if errDoc.Key == "" {
			errDoc.Key = object
		}
		errDoc.StatusCode = resp.StatusCode
		return "", errDoc
	}

	var result completeMultipartUploadResult
	if err := xml.Unmarshal(bodyBytes, &result); err != nil {
		return "", nil
	}

	c.log.WithFields(logrus.Fields{
		"bucket":   bucket,
		"object":   object,
		"uploadID": uploadID,
		"parts":    len(parts),
	}).Debug("Multipart upload completed")

	return trimETag(result.ETag), nil
}

// abortMultipartUpload discards an upload and its parts. Aborting an upload
// the service no longer knows is not an error.
func (c *Client) abortMultipartUpload(ctx context.Context, bucket, object, region, uploadID string) error {
	query := url.Values{}
	query.Set("uploadId", uploadID)

	resp, err := c.execute(ctx, http.MethodDelete, requestMetadata{
		bucket: bucket,
		object: object,
		region: region,
		query:  query,
	})
	if err != nil {
		if errorCodeIs(err, codeNoSuchUpload) {
			return nil
		}
		return err
	}
	closeResponse(resp)
	return nil
}

// abortAndRaise aborts the in-flight upload and re-raises the original
// failure. An abort failure is logged, not returned; the caller's error is
// the one that matters.
func (c *Client) abortAndRaise(ctx context.Context, bucket, object, region, uploadID string, cause error) error {
	if uploadID == "" {
		return cause
	}
	if abortErr := c.abortMultipartUpload(ctx, bucket, object, region, uploadID); abortErr != nil {
		c.log.WithFields(logrus.Fields{
			"bucket":   bucket,
			"object":   object,
			"uploadID": uploadID,
			"error":    abortErr,
		}).Warn("Failed to abort multipart upload")
	}
	return cause
}

// CompletedPart names one finished part for CompleteMultipartUpload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// NewMultipartUpload starts a multipart upload explicitly. Most callers
// should use PutObject, which manages the whole lifecycle; the explicit API
// exists for callers that distribute parts across processes.
func (c *Client) NewMultipartUpload(ctx context.Context, bucket, object string, opts PutObjectOptions) (string, error) {
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
	return c.newMultipartUpload(ctx, bucket, object, region, opts.ContentType, opts.headers())
}

// UploadPart uploads one part of an explicitly managed multipart upload and
// returns its ETag. The part data is buffered for hashing.
func (c *Client) UploadPart(ctx context.Context, bucket, object, uploadID string,
	partNumber int, reader io.Reader, size int64) (string, error) {

	if err := checkBucketName(bucket); err != nil {
		return "", err
	}
	if err := checkObjectName(object); err != nil {
		return "", err
	}
	if partNumber < 1 || partNumber > MaxMultipartCount {
		return "", InvalidArgumentError{Message: fmt.Sprintf(
			"part number %d out of range 1..%d", partNumber, MaxMultipartCount)}
	}
	if size < 0 || size > MaxPartSize {
		return "", InvalidArgumentError{Message: fmt.Sprintf("part size %d out of range", size)}
	}

	region, err := c.getRegion(ctx, bucket, "")
	if err != nil {
		return "", err
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", fmt.Errorf("short read of part data: %w", err)
	}
	return c.uploadPart(ctx, bucket, object, region, uploadID, partNumber, bytes.NewReader(buf), size)
}

// CompleteMultipartUpload finishes an explicitly managed upload. Parts are
// sorted into ascending part-number order before the request is sent.
func (c *Client) CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string,
	parts []CompletedPart) (string, error) {

	if err := checkBucketName(bucket); err != nil {
		return "", err
	}
	if err := checkObjectName(object); err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", InvalidArgumentError{Message: "at least one part is required"}
	}

	region, err := c.getRegion(ctx, bucket, "")
	if err != nil {
		return "", err
	}

	wire := make([]completePart, len(parts))
	for i, p := range parts {
		wire[i] = completePart{PartNumber: p.PartNumber, ETag: p.ETag}
	}
	sort.Slice(wire, func(i, j int) bool { return wire[i].PartNumber < wire[j].PartNumber })

	return c.completeMultipartUpload(ctx, bucket, object, region, uploadID, wire)
}

// AbortMultipartUpload discards an explicitly managed upload.
func (c *Client) AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}
	if err := checkObjectName(object); err != nil {
		return err
	}
	region, err := c.getRegion(ctx, bucket, "")
	if err != nil {
		return err
	}
	return c.abortMultipartUpload(ctx, bucket, object, region, uploadID)
}

func trimETag(etag string) string {
	return strings.Trim(etag, "\"")
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// readFull fills buf from r, tolerating short reads, and reports the byte
// count and whether the source is exhausted.
func readFull(r io.Reader, buf []byte) (int, bool, error) {
	n, err := io.ReadFull(r, buf)
	switch err {
	case nil:
		return n, false, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return n, true, nil
	default:
		return n, false, err
	}
}

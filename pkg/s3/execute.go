package s3

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// requestMetadata describes one request for the execute primitive. The body,
// when present, must be rewindable so content hashes can be computed without
// consuming it.
type requestMetadata struct {
	bucket  string
	object  string
	region  string
	query   url.Values
	headers http.Header
	body    io.ReadSeeker
	length  int64

	// xmlBody, when non-nil, is marshalled to XML and used as the request
	// body instead of body.
	xmlBody any
}

// executeMethod resolves the bucket region and runs the request. Operations
// that already hold a resolved region call execute directly.
func (c *Client) executeMethod(ctx context.Context, method string, meta requestMetadata) (*http.Response, error) {
	region, err := c.getRegion(ctx, meta.bucket, meta.region)
	if err != nil {
		return nil, err
	}
	meta.region = region
	return c.execute(ctx, method, meta)
}

// executeHead runs a HEAD request, retrying exactly once when the engine
// reports the region-mismatch condition. The response body is already closed.
func (c *Client) executeHead(ctx context.Context, meta requestMetadata) (*http.Response, error) {
	resp, err := c.executeMethod(ctx, http.MethodHead, meta)
	if err == nil {
		closeResponse(resp)
		return resp, nil
	}
	if !errorCodeIs(err, codeRetryHeadBucket) {
		return nil, err
	}

	resp, err = c.executeMethod(ctx, http.MethodHead, meta)
	if err != nil {
		return nil, err
	}
	closeResponse(resp)
	return resp, nil
}

// execute sends one signed request and classifies the response. A 2xx
// response is returned unconsumed; the caller owns the body. Anything else
// is mapped to a typed error.
func (c *Client) execute(ctx context.Context, method string, meta requestMetadata) (*http.Response, error) {
	body := meta.body
	length := meta.length

	if meta.xmlBody != nil {
		marshalled, err := xml.Marshal(meta.xmlBody)
		if err != nil {
			return nil, InternalError{Message: "failed to marshal request body: " + err.Error()}
		}
		body = bytes.NewReader(marshalled)
		length = int64(len(marshalled))
	}

	// The service requires an explicit body marker for bodyless PUT/POST.
	if body == nil && (method == http.MethodPut || method == http.MethodPost) {
		body = bytes.NewReader(nil)
		length = 0
	}

	target, err := c.makeTargetURL(method, meta.bucket, meta.object, meta.region, meta.query)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, method, target, meta.headers, body, length)
	if err != nil {
		return nil, err
	}

	if !c.anonymous() {
		signV4(req, meta.region, c.accessKey, c.secretKey, time.Now().UTC())
	}

	c.traceRequest(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observe(method, "transport_error", time.Since(start))
		return nil, fmt.Errorf("request to %s failed: %w", target.Host, err)
	}
	c.metrics.observe(method, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
	c.traceResponse(resp)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	return nil, c.mapResponseError(method, meta.bucket, meta.object, target, resp)
}

// newRequest builds the HTTP request with the protocol's standard headers
// and the scheme-dependent content hashes.
func (c *Client) newRequest(ctx context.Context, method string, target *url.URL,
	headers http.Header, body io.ReadSeeker, length int64) (*http.Request, error) {

	var reader io.Reader
	if body != nil {
		reader = body
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, InternalError{Message: "failed to build request: " + err.Error()}
	}
	req.ContentLength = length

	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	// Disable implicit compression; decompressed bodies would break both
	// signatures and Content-Length handling.
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Amz-Date", time.Now().UTC().Format(amzDateFormat))

	var sha256Sum, md5Sum string
	switch {
	case c.anonymous():
		if body != nil {
			_, md5Sum, err = hashBody(body, false)
		}
	case c.secure():
		// Transport integrity is assumed over TLS; the signature payload
		// hash is replaced by the unsigned sentinel.
		sha256Sum = unsignedPayload
		if body != nil {
			_, md5Sum, err = hashBody(body, false)
		}
	default:
		if body == nil {
			body = bytes.NewReader(nil)
		}
		sha256Sum, md5Sum, err = hashBody(body, true)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to hash request body: %w", err)
	}

	if md5Sum != "" {
		req.Header.Set("Content-MD5", md5Sum)
	}
	if sha256Sum != "" {
		req.Header.Set("X-Amz-Content-Sha256", sha256Sum)
	}

	// The transport may replay a request on a dead keep-alive connection
	// only when GetBody is available. PUT and POST are not idempotent here;
	// clearing GetBody confines the retry behavior to the other verbs.
	if method == http.MethodPut || method == http.MethodPost {
		req.GetBody = nil
	} else if body != nil {
		start, serr := body.Seek(0, io.SeekCurrent)
		if serr == nil {
			req.GetBody = func() (io.ReadCloser, error) {
				if _, err := body.Seek(start, io.SeekStart); err != nil {
					return nil, err
				}
				return io.NopCloser(body), nil
			}
		}
	}

	return req, nil
}

// mapResponseError turns a non-2xx response into a typed error. The body is
// read exactly once here.
func (c *Client) mapResponseError(method, bucket, object string, target *url.URL, resp *http.Response) error {
	defer closeResponse(resp)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read error response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if method != http.MethodHead && !isXMLContentType(contentType) {
		return InvalidResponseError{ContentType: contentType, StatusCode: resp.StatusCode}
	}

	var errResp *ErrorResponse
	if len(bytes.TrimSpace(bodyBytes)) > 0 {
		var parsed ErrorResponse
		if err := xml.Unmarshal(bodyBytes, &parsed); err != nil {
			return InvalidResponseError{ContentType: contentType, StatusCode: resp.StatusCode}
		}
		errResp = &parsed
	} else if method != http.MethodHead {
		return InvalidResponseError{ContentType: contentType, StatusCode: resp.StatusCode}
	}

	if errResp == nil {
		code, err := c.synthesizeErrorCode(method, bucket, object, resp.StatusCode)
		if err != nil {
			return err
		}
		errResp = &ErrorResponse{
			Code:    code,
			Message: httpStatusText(resp.StatusCode),
		}
	}

	if errResp.BucketName == "" {
		errResp.BucketName = bucket
	}
	if errResp.Key == "" {
		errResp.Key = object
	}
	if errResp.Resource == "" {
		errResp.Resource = target.Path
	}
	if errResp.RequestID == "" {
		errResp.RequestID = resp.Header.Get("x-amz-request-id")
	}
	if errResp.HostID == "" {
		errResp.HostID = resp.Header.Get("x-amz-id-2")
	}
	errResp.StatusCode = resp.StatusCode

	// A bucket that answers with NoSuchBucket or the HEAD region mismatch
	// may have moved; drop the cached region so the next call re-resolves.
	if c.isAWSHost && (errResp.Code == codeNoSuchBucket || errResp.Code == codeRetryHeadBucket) {
		c.regionCache.Delete(bucket)
	}

	c.log.WithFields(logrus.Fields{
		"method":    method,
		"bucket":    bucket,
		"object":    object,
		"status":    resp.StatusCode,
		"code":      errResp.Code,
		"requestID": errResp.RequestID,
	}).Debug("Service returned error")

	return *errResp
}

// synthesizeErrorCode maps a bare HTTP status to an error code when the
// service sent no error document.
func (c *Client) synthesizeErrorCode(method, bucket, object string, status int) (string, error) {
	switch status {
	case http.StatusTemporaryRedirect:
		return codeRedirect, nil
	case http.StatusBadRequest:
		// HEAD bucket addressed to the wrong region answers 400 without a
		// body. Only treat it as retryable when a cached region could be
		// the stale culprit.
		if method == http.MethodHead && bucket != "" && object == "" && c.isAWSHost {
			if _, ok := c.regionCache.Get(bucket); ok {
				return codeRetryHeadBucket, nil
			}
		}
		return codeInvalidURI, nil
	case http.StatusNotFound:
		switch {
		case object != "":
			return codeNoSuchKey, nil
		case bucket != "":
			return codeNoSuchBucket, nil
		default:
			return codeNotFound, nil
		}
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return codeMethodNotAllow, nil
	case http.StatusConflict:
		if bucket != "" {
			return codeNoSuchBucket, nil
		}
		return codeConflict, nil
	case http.StatusForbidden:
		return codeAccessDenied, nil
	default:
		if status >= 500 {
			return "", ServerError{StatusCode: status}
		}
		return "", InternalError{Message: fmt.Sprintf("unhandled HTTP code %d", status)}
	}
}

func isXMLContentType(contentType string) bool {
	// Some S3-compatible services label error documents text/xml.
	for _, part := range strings.Split(contentType, ";") {
		switch strings.TrimSpace(part) {
		case "application/xml", "text/xml":
			return true
		}
	}
	return false
}

// closeResponse drains and closes the body so the connection can be reused.
func closeResponse(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

var signatureRedaction = regexp.MustCompile(`(Signature=)[0-9a-f]+`)
var credentialRedaction = regexp.MustCompile(`(Credential=)[^/]+`)

func (c *Client) traceRequest(req *http.Request) {
	if c.trace == nil {
		return
	}
	fmt.Fprintln(c.trace, "---------START-HTTP---------")
	path := req.URL.EscapedPath()
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	fmt.Fprintf(c.trace, "%s %s HTTP/1.1\n", req.Method, path)
	for name, values := range req.Header {
		for _, v := range values {
			v = signatureRedaction.ReplaceAllString(v, "${1}*REDACTED*")
			v = credentialRedaction.ReplaceAllString(v, "${1}*REDACTED*")
			fmt.Fprintf(c.trace, "%s: %s\n", name, v)
		}
	}
}

func (c *Client) traceResponse(resp *http.Response) {
	if c.trace == nil {
		return
	}
	fmt.Fprintf(c.trace, "%s %s\n", resp.Proto, resp.Status)
	fmt.Fprintln(c.trace, "----------END-HTTP----------")
}

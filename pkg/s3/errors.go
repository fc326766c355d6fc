package s3

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
)

// Service error codes the client maps or inspects. Codes parsed from XML
// error bodies pass through verbatim; the constants below cover the codes
// the client synthesizes itself or treats specially.
const (
	codeRedirect        = "TemporaryRedirect"
	codeRetryHeadBucket = "RetryHeadBucket"
	codeInvalidURI      = "InvalidRequestURI"
	codeNoSuchKey       = "NoSuchKey"
	codeNoSuchBucket    = "NoSuchBucket"
	codeNotFound        = "ResourceNotFound"
	codeAccessDenied    = "AccessDenied"
	codeMethodNotAllow  = "MethodNotAllowed"
	codeConflict        = "ResourceConflict"

	codeNoSuchTagSet            = "NoSuchTagSet"
	codeNoSuchBucketPolicy      = "NoSuchBucketPolicy"
	codeNoSuchLifecycle         = "NoSuchLifecycleConfiguration"
	codeNoObjectLockConfig      = "ObjectLockConfigurationNotFoundError"
	codeNoSSEConfig             = "ServerSideEncryptionConfigurationNotFoundError"
	codeNoSuchUpload            = "NoSuchUpload"
	codeNoSuchVersion           = "NoSuchVersion"
	codeBucketNotEmpty          = "BucketNotEmpty"
	codeBucketAlreadyOwnedByYou = "BucketAlreadyOwnedByYou"
)

// ErrorResponse is the service error returned for any non-2xx response,
// either parsed from the XML error body or synthesized from the bare HTTP
// status code.
type ErrorResponse struct {
	XMLName    xml.Name `xml:"Error" json:"-"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	BucketName string   `xml:"BucketName"`
	Key        string   `xml:"Key"`
	Resource   string   `xml:"Resource"`
	RequestID  string   `xml:"RequestId"`
	HostID     string   `xml:"HostId"`

	// Region carries the actual bucket region when the service reports a
	// region mismatch.
	Region string `xml:"Region"`

	StatusCode int `xml:"-"`
}

func (e ErrorResponse) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// ToErrorResponse extracts the service error from err, returning the zero
// value when err is not a service error.
func ToErrorResponse(err error) ErrorResponse {
	var resp ErrorResponse
	errors.As(err, &resp)
	return resp
}

// errorCodeIs reports whether err is a service error with the given code.
func errorCodeIs(err error, code string) bool {
	return ToErrorResponse(err).Code == code
}

// InvalidBucketNameError rejects a bucket name before any network call.
type InvalidBucketNameError struct {
	Bucket string
	Reason string
}

func (e InvalidBucketNameError) Error() string {
	return fmt.Sprintf("invalid bucket name %q: %s", e.Bucket, e.Reason)
}

// InvalidObjectNameError rejects an object key before any network call.
type InvalidObjectNameError struct {
	Object string
	Reason string
}

func (e InvalidObjectNameError) Error() string {
	return fmt.Sprintf("invalid object name %q: %s", e.Object, e.Reason)
}

// InvalidArgumentError rejects an operation argument before any network
// call.
type InvalidArgumentError struct {
	Message string
}

func (e InvalidArgumentError) Error() string { return "invalid argument: " + e.Message }

// ConfigError reports conflicting or incomplete client configuration.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string { return "configuration error: " + e.Reason }

// InvalidResponseError reports a non-XML or unparseable body where the
// protocol requires XML.
type InvalidResponseError struct {
	ContentType string
	StatusCode  int
}

func (e InvalidResponseError) Error() string {
	return fmt.Sprintf("non-XML response (status %d, content type %q) where XML was expected",
		e.StatusCode, e.ContentType)
}

// PolicyTooLargeError reports a bucket policy body exceeding the bounded
// read cap.
type PolicyTooLargeError struct {
	Bucket string
}

func (e PolicyTooLargeError) Error() string {
	return fmt.Sprintf("bucket policy for %q larger than %d bytes", e.Bucket, MaxBucketPolicySize)
}

// InvalidExpiryError reports a presign expiry outside the allowed range.
type InvalidExpiryError struct {
	Expiry int64
}

func (e InvalidExpiryError) Error() string {
	return fmt.Sprintf("expiry %d out of range; must be within 1 to %d seconds",
		e.Expiry, int64(DefaultExpiry.Seconds()))
}

// ServerError reports a 5xx status with no parseable error body.
type ServerError struct {
	StatusCode int
}

func (e ServerError) Error() string {
	return fmt.Sprintf("server failed with HTTP status code %d", e.StatusCode)
}

// InternalError reports a client bug or an HTTP status the protocol never
// produces. Please report occurrences at
// https://github.com/einyx/objstream/issues.
type InternalError struct {
	Message string
}

func (e InternalError) Error() string { return "internal error: " + e.Message }

// httpStatusText is a fallback message for synthesized errors.
func httpStatusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return fmt.Sprintf("HTTP %d", code)
}

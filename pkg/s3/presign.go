package s3

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// PresignedGetObject returns a URL that downloads the object without
// credentials until expiry. reqParams may carry response-override query
// parameters; they are covered by the signature.
func (c *Client) PresignedGetObject(ctx context.Context, bucket, object string,
	expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	return c.presign(ctx, http.MethodGet, bucket, object, expiry, reqParams)
}

// PresignedPutObject returns a URL that uploads to the object key without
// credentials until expiry.
func (c *Client) PresignedPutObject(ctx context.Context, bucket, object string,
	expiry time.Duration) (*url.URL, error) {
	return c.presign(ctx, http.MethodPut, bucket, object, expiry, nil)
}

// PresignedHeadObject returns a URL that stats the object without
// credentials until expiry.
func (c *Client) PresignedHeadObject(ctx context.Context, bucket, object string,
	expiry time.Duration) (*url.URL, error) {
	return c.presign(ctx, http.MethodHead, bucket, object, expiry, nil)
}

func (c *Client) presign(ctx context.Context, method, bucket, object string,
	expiry time.Duration, reqParams url.Values) (*url.URL, error) {

	if err := checkBucketName(bucket); err != nil {
		return nil, err
	}
	if err := checkObjectName(object); err != nil {
		return nil, err
	}

	expirySeconds := int64(expiry / time.Second)
	if expirySeconds < 1 || expirySeconds > int64(DefaultExpiry.Seconds()) {
		return nil, InvalidExpiryError{Expiry: expirySeconds}
	}

	region, err := c.getRegion(ctx, bucket, "")
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for k, vs := range reqParams {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	target, err := c.makeTargetURL(method, bucket, object, region, query)
	if err != nil {
		return nil, err
	}

	// Anonymous clients cannot sign; the plain URL is all there is.
	if c.anonymous() {
		return target, nil
	}

	req, err := http.NewRequest(method, target.String(), nil)
	if err != nil {
		return nil, InternalError{Message: "failed to build presign request: " + err.Error()}
	}

	return presignV4(req, region, c.accessKey, c.secretKey, time.Now().UTC(), expirySeconds), nil
}

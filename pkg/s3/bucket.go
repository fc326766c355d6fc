package s3

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// MakeBucketOptions tunes bucket creation.
type MakeBucketOptions struct {
	// Region places the bucket; empty uses the client or default region.
	Region string

	// ObjectLock enables object locking, which can only be done at
	// creation time.
	ObjectLock bool
}

// MakeBucket creates a bucket. Regions other than the default are requested
// through the location-constraint document.
func (c *Client) MakeBucket(ctx context.Context, bucket string, opts MakeBucketOptions) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}

	region := opts.Region
	if region == "" {
		region = c.region
	}
	if region == "" {
		region = defaultRegion
	}

	meta := requestMetadata{bucket: bucket, region: region}
	if region != defaultRegion {
		meta.xmlBody = createBucketConfiguration{Location: region}
	}
	if opts.ObjectLock {
		meta.headers = make(http.Header)
		meta.headers.Set("x-amz-bucket-object-lock-enabled", "true")
	}

	resp, err := c.execute(ctx, http.MethodPut, meta)
	if err != nil {
		return err
	}
	closeResponse(resp)

	c.regionCache.Set(bucket, region)
	c.log.WithFields(logrus.Fields{
		"bucket": bucket,
		"region": region,
	}).Debug("Bucket created")

	return nil
}

// BucketExists reports whether the bucket exists and is reachable with the
// caller's credentials. NoSuchBucket maps to false; other failures are
// returned as errors.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := checkBucketName(bucket); err != nil {
		return false, err
	}

	_, err := c.executeHead(ctx, requestMetadata{bucket: bucket})
	if err != nil {
		if errorCodeIs(err, codeNoSuchBucket) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoveBucket deletes an empty bucket and drops its cached region.
func (c *Client) RemoveBucket(ctx context.Context, bucket string) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}

	resp, err := c.executeMethod(ctx, http.MethodDelete, requestMetadata{bucket: bucket})
	if err != nil {
		return err
	}
	closeResponse(resp)

	c.regionCache.Delete(bucket)
	return nil
}

// ListBuckets returns every bucket owned by the caller. The listing endpoint
// is regionless, so no bucket region is resolved.
func (c *Client) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	var result listAllMyBucketsResult
	if err := c.getXML(ctx, requestMetadata{region: defaultRegion}, &result); err != nil {
		return nil, err
	}

	buckets := make([]BucketInfo, 0, len(result.Buckets.Bucket))
	for _, b := range result.Buckets.Bucket {
		buckets = append(buckets, BucketInfo{Name: b.Name, CreationDate: b.CreationDate})
	}
	return buckets, nil
}

// GetBucketLocation returns the bucket's region, resolving and caching it if
// needed.
func (c *Client) GetBucketLocation(ctx context.Context, bucket string) (string, error) {
	if err := checkBucketName(bucket); err != nil {
		return "", err
	}
	return c.getRegion(ctx, bucket, "")
}

// getBucketSubresource fetches one XML-document subresource, mapping the
// given "never configured" error code to the zero value of out.
func (c *Client) getBucketSubresource(ctx context.Context, bucket, name, absenceCode string, out any) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}

	err := c.getXML(ctx, requestMetadata{bucket: bucket, query: url.Values{name: {""}}}, out)
	if err != nil && absenceCode != "" && errorCodeIs(err, absenceCode) {
		return nil
	}
	return err
}

// setBucketSubresource stores one XML-document subresource.
func (c *Client) setBucketSubresource(ctx context.Context, bucket, name string, doc any) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}

	resp, err := c.executeMethod(ctx, http.MethodPut, requestMetadata{
		bucket:  bucket,
		query:   url.Values{name: {""}},
		xmlBody: doc,
	})
	if err != nil {
		return err
	}
	closeResponse(resp)
	return nil
}

// deleteBucketSubresource removes one subresource.
func (c *Client) deleteBucketSubresource(ctx context.Context, bucket, name string) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}

	resp, err := c.executeMethod(ctx, http.MethodDelete, requestMetadata{
		bucket: bucket,
		query:  url.Values{name: {""}},
	})
	if err != nil {
		return err
	}
	closeResponse(resp)
	return nil
}

// GetBucketTagging returns the bucket's tags; a bucket with no tag set yields
// an empty Tagging, not an error.
func (c *Client) GetBucketTagging(ctx context.Context, bucket string) (Tagging, error) {
	var tags Tagging
	err := c.getBucketSubresource(ctx, bucket, "tagging", codeNoSuchTagSet, &tags)
	return tags, err
}

// SetBucketTagging replaces the bucket's tag set.
func (c *Client) SetBucketTagging(ctx context.Context, bucket string, tags Tagging) error {
	return c.setBucketSubresource(ctx, bucket, "tagging", tags)
}

// RemoveBucketTagging deletes the bucket's tag set.
func (c *Client) RemoveBucketTagging(ctx context.Context, bucket string) error {
	return c.deleteBucketSubresource(ctx, bucket, "tagging")
}

// GetBucketPolicy returns the bucket policy JSON. A bucket with no policy
// yields the empty string. Policies over the size cap fail with
// PolicyTooLargeError rather than being read whole.
func (c *Client) GetBucketPolicy(ctx context.Context, bucket string) (string, error) {
	if err := checkBucketName(bucket); err != nil {
		return "", err
	}

	resp, err := c.executeMethod(ctx, http.MethodGet, requestMetadata{
		bucket: bucket,
		query:  url.Values{"policy": {""}},
	})
	if err != nil {
		if errorCodeIs(err, codeNoSuchBucketPolicy) {
			return "", nil
		}
		return "", err
	}
	defer closeResponse(resp)

	// Read one byte past the cap to distinguish at-cap from over-cap.
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBucketPolicySize+1))
	if err != nil {
		return "", InternalError{Message: "failed to read bucket policy: " + err.Error()}
	}
	if len(data) > MaxBucketPolicySize {
		return "", PolicyTooLargeError{Bucket: bucket}
	}
	return string(data), nil
}

// SetBucketPolicy stores a bucket policy. An empty policy deletes the
// current one.
func (c *Client) SetBucketPolicy(ctx context.Context, bucket, policy string) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}
	if policy == "" {
		return c.deleteBucketSubresource(ctx, bucket, "policy")
	}
	if len(policy) > MaxBucketPolicySize {
		return PolicyTooLargeError{Bucket: bucket}
	}

	resp, err := c.executeMethod(ctx, http.MethodPut, requestMetadata{
		bucket: bucket,
		query:  url.Values{"policy": {""}},
		body:   strings.NewReader(policy),
		length: int64(len(policy)),
	})
	if err != nil {
		return err
	}
	closeResponse(resp)
	return nil
}

// GetBucketLifecycle returns the lifecycle rules; none configured yields an
// empty configuration.
func (c *Client) GetBucketLifecycle(ctx context.Context, bucket string) (LifecycleConfiguration, error) {
	var lc LifecycleConfiguration
	err := c.getBucketSubresource(ctx, bucket, "lifecycle", codeNoSuchLifecycle, &lc)
	return lc, err
}

// SetBucketLifecycle replaces the lifecycle rules.
func (c *Client) SetBucketLifecycle(ctx context.Context, bucket string, lc LifecycleConfiguration) error {
	return c.setBucketSubresource(ctx, bucket, "lifecycle", lc)
}

// RemoveBucketLifecycle deletes the lifecycle rules.
func (c *Client) RemoveBucketLifecycle(ctx context.Context, bucket string) error {
	return c.deleteBucketSubresource(ctx, bucket, "lifecycle")
}

// GetBucketVersioning returns the versioning state. A bucket that was never
// configured yields an empty Status.
func (c *Client) GetBucketVersioning(ctx context.Context, bucket string) (VersioningConfiguration, error) {
	var vc VersioningConfiguration
	err := c.getBucketSubresource(ctx, bucket, "versioning", "", &vc)
	return vc, err
}

// SetBucketVersioning enables or suspends versioning.
func (c *Client) SetBucketVersioning(ctx context.Context, bucket string, vc VersioningConfiguration) error {
	return c.setBucketSubresource(ctx, bucket, "versioning", vc)
}

// GetBucketEncryption returns the default-encryption rules; none configured
// yields an empty configuration.
func (c *Client) GetBucketEncryption(ctx context.Context, bucket string) (SSEConfiguration, error) {
	var sc SSEConfiguration
	err := c.getBucketSubresource(ctx, bucket, "encryption", codeNoSSEConfig, &sc)
	return sc, err
}

// SetBucketEncryption replaces the default-encryption rules.
func (c *Client) SetBucketEncryption(ctx context.Context, bucket string, sc SSEConfiguration) error {
	return c.setBucketSubresource(ctx, bucket, "encryption", sc)
}

// RemoveBucketEncryption deletes the default-encryption rules.
func (c *Client) RemoveBucketEncryption(ctx context.Context, bucket string) error {
	return c.deleteBucketSubresource(ctx, bucket, "encryption")
}

// GetObjectLockConfiguration returns the bucket's object-lock defaults; a
// bucket without object lock yields an empty configuration.
func (c *Client) GetObjectLockConfiguration(ctx context.Context, bucket string) (ObjectLockConfiguration, error) {
	var olc ObjectLockConfiguration
	err := c.getBucketSubresource(ctx, bucket, "object-lock", codeNoObjectLockConfig, &olc)
	return olc, err
}

// SetObjectLockConfiguration replaces the bucket's object-lock defaults.
func (c *Client) SetObjectLockConfiguration(ctx context.Context, bucket string, olc ObjectLockConfiguration) error {
	return c.setBucketSubresource(ctx, bucket, "object-lock", olc)
}

// GetObjectRetention returns the retention setting of one object version.
func (c *Client) GetObjectRetention(ctx context.Context, bucket, object, versionID string) (Retention, error) {
	var r Retention
	if err := checkBucketName(bucket); err != nil {
		return r, err
	}
	if err := checkObjectName(object); err != nil {
		return r, err
	}

	query := url.Values{"retention": {""}}
	if versionID != "" {
		query.Set("versionId", versionID)
	}
	err := c.getXML(ctx, requestMetadata{bucket: bucket, object: object, query: query}, &r)
	return r, err
}

// SetObjectRetention stores a retention setting on one object version.
// Shortening an existing governance lock needs bypassGovernance.
func (c *Client) SetObjectRetention(ctx context.Context, bucket, object, versionID string,
	r Retention, bypassGovernance bool) error {

	if err := checkBucketName(bucket); err != nil {
		return err
	}
	if err := checkObjectName(object); err != nil {
		return err
	}

	query := url.Values{"retention": {""}}
	if versionID != "" {
		query.Set("versionId", versionID)
	}
	var headers http.Header
	if bypassGovernance {
		headers = make(http.Header)
		headers.Set("x-amz-bypass-governance-retention", "true")
	}

	resp, err := c.executeMethod(ctx, http.MethodPut, requestMetadata{
		bucket:  bucket,
		object:  object,
		query:   query,
		headers: headers,
		xmlBody: r,
	})
	if err != nil {
		return err
	}
	closeResponse(resp)
	return nil
}

// GetObjectLegalHold reports whether a legal hold is set on one object
// version.
func (c *Client) GetObjectLegalHold(ctx context.Context, bucket, object, versionID string) (bool, error) {
	if err := checkBucketName(bucket); err != nil {
		return false, err
	}
	if err := checkObjectName(object); err != nil {
		return false, err
	}

	query := url.Values{"legal-hold": {""}}
	if versionID != "" {
		query.Set("versionId", versionID)
	}

	var lh LegalHold
	if err := c.getXML(ctx, requestMetadata{bucket: bucket, object: object, query: query}, &lh); err != nil {
		return false, err
	}
	return lh.Status == "ON", nil
}

// SetObjectLegalHold sets or clears the legal hold on one object version.
func (c *Client) SetObjectLegalHold(ctx context.Context, bucket, object, versionID string, hold bool) error {
	if err := checkBucketName(bucket); err != nil {
		return err
	}
	if err := checkObjectName(object); err != nil {
		return err
	}

	status := "OFF"
	if hold {
		status = "ON"
	}
	query := url.Values{"legal-hold": {""}}
	if versionID != "" {
		query.Set("versionId", versionID)
	}

	resp, err := c.executeMethod(ctx, http.MethodPut, requestMetadata{
		bucket:  bucket,
		object:  object,
		query:   query,
		xmlBody: LegalHold{Status: status},
	})
	if err != nil {
		return err
	}
	closeResponse(resp)
	return nil
}

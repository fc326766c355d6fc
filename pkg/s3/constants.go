package s3

import "time"

const (
	// MinPartSize is the smallest part size the service accepts for any part
	// other than the last one of a multipart upload.
	MinPartSize = 5 * 1024 * 1024

	// MaxPartSize is the largest single part (or copy range) the service accepts.
	MaxPartSize = 5 * 1024 * 1024 * 1024

	// MaxObjectSize is the largest object a multipart upload may produce.
	MaxObjectSize = 5 * 1024 * 1024 * 1024 * 1024

	// MaxMultipartCount is the highest usable part number.
	MaxMultipartCount = 10000

	// MaxBucketPolicySize caps how much of a bucket policy response is read.
	MaxBucketPolicySize = 12 * 1024

	// DefaultExpiry is the presigned URL expiry used when none is given.
	// It is also the maximum the protocol allows (7 days).
	DefaultExpiry = 7 * 24 * time.Hour

	defaultRegion      = "us-east-1"
	defaultContentType = "application/octet-stream"

	// unsignedPayload replaces the payload hash when transport security
	// already guarantees integrity.
	unsignedPayload = "UNSIGNED-PAYLOAD"

	amzDateFormat  = "20060102T150405Z"
	signDateFormat = "20060102"
)

// optimalPartSize picks the part size and count for an object of the given
// total size. A negative size means the length is unknown and the driving
// loop must probe for the final part.
func optimalPartSize(objectSize int64) (partSize int64, partCount int, err error) {
	if objectSize > MaxObjectSize {
		return 0, 0, InvalidArgumentError{Message: "object size exceeds maximum allowed"}
	}

	if objectSize < 0 {
		return MinPartSize * 13, -1, nil // ~64MiB probing parts for unknown length
	}

	partSize = MinPartSize
	for partSize*MaxMultipartCount < objectSize {
		partSize += MinPartSize
	}

	if objectSize == 0 {
		return partSize, 1, nil
	}

	partCount = int((objectSize + partSize - 1) / partSize)
	return partSize, partCount, nil
}

package s3

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ComposeSource names one source object of a server-side concatenation.
type ComposeSource struct {
	Bucket string
	Object string
}

// ComposeObject concatenates the sources into bucket/object without moving
// data through the client. Every source except the last must be at least the
// minimum part size; sources above the maximum part size are split into
// ranged part copies. The combined size must not exceed the object limit and
// the split must fit in the part-number space. Any failure after the upload
// is opened aborts it and returns the original error.
func (c *Client) ComposeObject(ctx context.Context, bucket, object string, sources []ComposeSource, opts PutObjectOptions) (string, error) {
	if err := checkBucketName(bucket); err != nil {
		return "", err
	}
	if err := checkObjectName(object); err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return "", InvalidArgumentError{Message: "at least one compose source is required"}
	}

	region, err := c.getRegion(ctx, bucket, "")
	if err != nil {
		return "", err
	}

	// Stat every source up front so validation completes before any write.
	sizes := make([]int64, len(sources))
	var totalSize int64
	var totalParts int
	for i, src := range sources {
		if err := checkBucketName(src.Bucket); err != nil {
			return "", err
		}
		if err := checkObjectName(src.Object); err != nil {
			return "", err
		}

		info, err := c.StatObject(ctx, src.Bucket, src.Object, GetObjectOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to stat compose source %s/%s: %w", src.Bucket, src.Object, err)
		}
		sizes[i] = info.Size

		if i < len(sources)-1 && info.Size < MinPartSize {
			return "", InvalidArgumentError{Message: fmt.Sprintf(
				"compose source %s/%s is %d bytes; every source but the last must be at least %d",
				src.Bucket, src.Object, info.Size, int64(MinPartSize))}
		}

		totalSize += info.Size
		totalParts += partsForSize(info.Size)
	}

	if totalSize > MaxObjectSize {
		return "", InvalidArgumentError{Message: fmt.Sprintf(
			"composed size %d exceeds the maximum object size", totalSize)}
	}
	if totalParts > MaxMultipartCount {
		return "", InvalidArgumentError{Message: fmt.Sprintf(
			"compose needs %d parts; the limit is %d", totalParts, MaxMultipartCount)}
	}

	uploadID, err := c.newMultipartUpload(ctx, bucket, object, region, opts.ContentType, opts.headers())
	if err != nil {
		return "", err
	}

	var parts []completePart
	partNumber := 0
	for i, src := range sources {
		for _, r := range splitRanges(sizes[i]) {
			partNumber++
			// A whole-object copy carries no range header; the service
			// rejects ranges on zero-byte sources.
			rangeHeader := ""
			if !r.whole {
				rangeHeader = fmt.Sprintf("bytes=%d-%d", r.start, r.end)
			}

			etag, err := c.uploadPartCopy(ctx, bucket, object, region, uploadID,
				partNumber, src.Bucket, src.Object, rangeHeader)
			if err != nil {
				return "", c.abortAndRaise(ctx, bucket, object, region, uploadID, err)
			}
			parts = append(parts, completePart{PartNumber: partNumber, ETag: etag})
		}
	}

	etag, err := c.completeMultipartUpload(ctx, bucket, object, region, uploadID, parts)
	if err != nil {
		return "", c.abortAndRaise(ctx, bucket, object, region, uploadID, err)
	}

	c.log.WithFields(logrus.Fields{
		"bucket":  bucket,
		"object":  object,
		"sources": len(sources),
		"parts":   partNumber,
		"size":    totalSize,
	}).Debug("Object composed")

	return etag, nil
}

type copyRange struct {
	start, end int64
	whole      bool
}

// partsForSize is how many part copies one source of the given size needs.
func partsForSize(size int64) int {
	if size <= MaxPartSize {
		return 1
	}
	return int((size + MaxPartSize - 1) / MaxPartSize)
}

// splitRanges cuts a source into copy ranges of at most the maximum part
// size. Sources that fit in one part are copied whole.
func splitRanges(size int64) []copyRange {
	if size <= MaxPartSize {
		return []copyRange{{whole: true}}
	}
	var ranges []copyRange
	for start := int64(0); start < size; start += MaxPartSize {
		end := start + MaxPartSize - 1
		if end >= size {
			end = size - 1
		}
		ranges = append(ranges, copyRange{start: start, end: end})
	}
	return ranges
}

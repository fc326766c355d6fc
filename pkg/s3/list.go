package s3

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"
	"strconv"
)

// Done is returned by Iterator.Next when the listing is exhausted.
var Done = errors.New("iterator done")

// Iterator pulls items from a paginated listing one at a time, fetching the
// next page lazily. A fetch error is returned once and ends the iteration;
// after that every Next returns Done. Iterators are not safe for concurrent
// use.
type Iterator[T any] struct {
	// fetch returns one page of items and whether more pages remain. It
	// carries its own marker state between calls.
	fetch func(ctx context.Context) ([]T, bool, error)

	ctx   context.Context
	items []T
	done  bool
}

// Next returns the next item. It returns Done after the final item, or the
// fetch error exactly once, after which the iterator is permanently done.
func (it *Iterator[T]) Next() (T, error) {
	var zero T
	for len(it.items) == 0 {
		if it.done {
			return zero, Done
		}
		items, more, err := it.fetch(it.ctx)
		if err != nil {
			it.done = true
			return zero, err
		}
		it.items = items
		if !more {
			it.done = true
		}
	}
	item := it.items[0]
	it.items = it.items[1:]
	return item, nil
}

// Collect drains the iterator into a slice.
func (it *Iterator[T]) Collect() ([]T, error) {
	var out []T
	for {
		item, err := it.Next()
		if err == Done {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
}

// errIterator yields one error, then Done.
func errIterator[T any](ctx context.Context, err error) *Iterator[T] {
	return &Iterator[T]{
		ctx: ctx,
		fetch: func(context.Context) ([]T, bool, error) {
			return nil, false, err
		},
	}
}

// ListObjectsOptions tunes an object listing.
type ListObjectsOptions struct {
	// Prefix restricts the listing to keys beginning with it.
	Prefix string

	// Recursive lists keys across "directory" boundaries; off, keys are
	// folded with the "/" delimiter and each common prefix is yielded as a
	// zero-size entry whose Key is the prefix.
	Recursive bool

	// MaxKeys bounds the page size, not the total. Zero uses the service
	// default.
	MaxKeys int

	// UseV1 selects the legacy marker-paginated listing protocol.
	UseV1 bool
}

func (o ListObjectsOptions) delimiter() string {
	if o.Recursive {
		return ""
	}
	return "/"
}

// ListObjects iterates the objects of a bucket in lexical key order.
func (c *Client) ListObjects(ctx context.Context, bucket string, opts ListObjectsOptions) *Iterator[ObjectInfo] {
	if err := checkBucketName(bucket); err != nil {
		return errIterator[ObjectInfo](ctx, err)
	}
	if opts.UseV1 {
		return c.listObjectsV1(ctx, bucket, opts)
	}
	return c.listObjectsV2(ctx, bucket, opts)
}

func (c *Client) listObjectsV2(ctx context.Context, bucket string, opts ListObjectsOptions) *Iterator[ObjectInfo] {
	token := ""
	return &Iterator[ObjectInfo]{ctx: ctx, fetch: func(ctx context.Context) ([]ObjectInfo, bool, error) {
		query := url.Values{}
		query.Set("list-type", "2")
		addListParams(query, opts.Prefix, opts.delimiter(), opts.MaxKeys)
		if token != "" {
			query.Set("continuation-token", token)
		}

		var page listBucketResult
		if err := c.getXML(ctx, requestMetadata{bucket: bucket, query: query}, &page); err != nil {
			return nil, false, err
		}

		token = page.NextContinuationToken
		return objectEntries(page), page.IsTruncated && token != "", nil
	}}
}

func (c *Client) listObjectsV1(ctx context.Context, bucket string, opts ListObjectsOptions) *Iterator[ObjectInfo] {
	marker := ""
	return &Iterator[ObjectInfo]{ctx: ctx, fetch: func(ctx context.Context) ([]ObjectInfo, bool, error) {
		query := url.Values{}
		addListParams(query, opts.Prefix, opts.delimiter(), opts.MaxKeys)
		if marker != "" {
			query.Set("marker", marker)
		}

		var page listBucketResult
		if err := c.getXML(ctx, requestMetadata{bucket: bucket, query: query}, &page); err != nil {
			return nil, false, err
		}

		items := objectEntries(page)

		// The legacy protocol may omit NextMarker; the last key of the page
		// is the continuation point then.
		marker = page.NextMarker
		if marker == "" && len(page.Contents) > 0 {
			marker = page.Contents[len(page.Contents)-1].Key
		}
		return items, page.IsTruncated && marker != "", nil
	}}
}

func objectEntries(page listBucketResult) []ObjectInfo {
	items := make([]ObjectInfo, 0, len(page.Contents)+len(page.CommonPrefixes))
	for _, e := range page.Contents {
		items = append(items, ObjectInfo{
			Key:          e.Key,
			Size:         e.Size,
			ETag:         trimETag(e.ETag),
			LastModified: e.LastModified,
			StorageClass: e.StorageClass,
		})
	}
	for _, p := range page.CommonPrefixes {
		items = append(items, ObjectInfo{Key: p.Prefix})
	}
	return items
}

// ListObjectVersions iterates all versions and delete markers of a bucket's
// objects, newest first per key.
func (c *Client) ListObjectVersions(ctx context.Context, bucket string, opts ListObjectsOptions) *Iterator[ObjectInfo] {
	if err := checkBucketName(bucket); err != nil {
		return errIterator[ObjectInfo](ctx, err)
	}

	keyMarker, versionMarker := "", ""
	return &Iterator[ObjectInfo]{ctx: ctx, fetch: func(ctx context.Context) ([]ObjectInfo, bool, error) {
		query := url.Values{}
		query.Set("versions", "")
		addListParams(query, opts.Prefix, opts.delimiter(), opts.MaxKeys)
		if keyMarker != "" {
			query.Set("key-marker", keyMarker)
		}
		if versionMarker != "" {
			query.Set("version-id-marker", versionMarker)
		}

		var page listVersionsResult
		if err := c.getXML(ctx, requestMetadata{bucket: bucket, query: query}, &page); err != nil {
			return nil, false, err
		}

		items := make([]ObjectInfo, 0, len(page.Versions)+len(page.DeleteMarkers)+len(page.CommonPrefixes))
		for _, v := range page.Versions {
			items = append(items, versionInfo(v, false))
		}
		for _, v := range page.DeleteMarkers {
			items = append(items, versionInfo(v, true))
		}
		for _, p := range page.CommonPrefixes {
			items = append(items, ObjectInfo{Key: p.Prefix})
		}

		keyMarker = page.NextKeyMarker
		versionMarker = page.NextVersionIDMarker
		return items, page.IsTruncated, nil
	}}
}

func versionInfo(v versionEntry, deleteMarker bool) ObjectInfo {
	return ObjectInfo{
		Key:            v.Key,
		Size:           v.Size,
		ETag:           trimETag(v.ETag),
		LastModified:   v.LastModified,
		StorageClass:   v.StorageClass,
		VersionID:      v.VersionID,
		IsLatest:       v.IsLatest,
		IsDeleteMarker: deleteMarker,
	}
}

// ListIncompleteUploads iterates the multipart uploads that were started but
// never completed or aborted.
func (c *Client) ListIncompleteUploads(ctx context.Context, bucket, prefix string) *Iterator[UploadInfo] {
	if err := checkBucketName(bucket); err != nil {
		return errIterator[UploadInfo](ctx, err)
	}

	keyMarker, uploadMarker := "", ""
	return &Iterator[UploadInfo]{ctx: ctx, fetch: func(ctx context.Context) ([]UploadInfo, bool, error) {
		query := url.Values{}
		query.Set("uploads", "")
		addListParams(query, prefix, "", 0)
		if keyMarker != "" {
			query.Set("key-marker", keyMarker)
		}
		if uploadMarker != "" {
			query.Set("upload-id-marker", uploadMarker)
		}

		var page listMultipartUploadsResult
		if err := c.getXML(ctx, requestMetadata{bucket: bucket, query: query}, &page); err != nil {
			return nil, false, err
		}

		items := make([]UploadInfo, 0, len(page.Uploads))
		for _, u := range page.Uploads {
			items = append(items, UploadInfo{
				Key:       u.Key,
				UploadID:  u.UploadID,
				Initiated: u.Initiated,
			})
		}

		keyMarker = page.NextKeyMarker
		uploadMarker = page.NextUploadIDMarker
		return items, page.IsTruncated, nil
	}}
}

// ListObjectParts iterates the parts uploaded so far for one multipart
// upload, in part-number order.
func (c *Client) ListObjectParts(ctx context.Context, bucket, object, uploadID string) *Iterator[PartInfo] {
	if err := checkBucketName(bucket); err != nil {
		return errIterator[PartInfo](ctx, err)
	}
	if err := checkObjectName(object); err != nil {
		return errIterator[PartInfo](ctx, err)
	}

	partMarker := 0
	return &Iterator[PartInfo]{ctx: ctx, fetch: func(ctx context.Context) ([]PartInfo, bool, error) {
		query := url.Values{}
		query.Set("uploadId", uploadID)
		if partMarker > 0 {
			query.Set("part-number-marker", strconv.Itoa(partMarker))
		}

		var page listPartsResult
		if err := c.getXML(ctx, requestMetadata{bucket: bucket, object: object, query: query}, &page); err != nil {
			return nil, false, err
		}

		items := make([]PartInfo, 0, len(page.Parts))
		for _, p := range page.Parts {
			items = append(items, PartInfo{
				PartNumber:   p.PartNumber,
				ETag:         trimETag(p.ETag),
				Size:         p.Size,
				LastModified: p.LastModified,
			})
		}

		partMarker = page.NextPartNumberMarker
		return items, page.IsTruncated, nil
	}}
}

func addListParams(query url.Values, prefix, delimiter string, maxKeys int) {
	if prefix != "" {
		query.Set("prefix", prefix)
	}
	if delimiter != "" {
		query.Set("delimiter", delimiter)
	}
	if maxKeys > 0 {
		query.Set("max-keys", strconv.Itoa(maxKeys))
	}
}

// getXML runs a GET and decodes the XML response document into out.
func (c *Client) getXML(ctx context.Context, meta requestMetadata, out any) error {
	resp, err := c.executeMethod(ctx, http.MethodGet, meta)
	if err != nil {
		return err
	}
	defer closeResponse(resp)

	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return InvalidResponseError{StatusCode: resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type")}
	}
	return nil
}

package s3

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRanges(t *testing.T) {
	// Whole-object copy for anything at or below the part cap.
	ranges := splitRanges(MinPartSize)
	require.Len(t, ranges, 1)
	assert.True(t, ranges[0].whole)

	ranges = splitRanges(MaxPartSize)
	require.Len(t, ranges, 1)
	assert.True(t, ranges[0].whole)

	// One byte over the cap yields a full range plus a one-byte tail.
	ranges = splitRanges(MaxPartSize + 1)
	require.Len(t, ranges, 2)
	assert.False(t, ranges[0].whole)
	assert.EqualValues(t, 0, ranges[0].start)
	assert.EqualValues(t, MaxPartSize-1, ranges[0].end)
	assert.EqualValues(t, MaxPartSize, ranges[1].start)
	assert.EqualValues(t, MaxPartSize, ranges[1].end)
}

func TestPartsForSize(t *testing.T) {
	assert.Equal(t, 1, partsForSize(0))
	assert.Equal(t, 1, partsForSize(MaxPartSize))
	assert.Equal(t, 2, partsForSize(MaxPartSize+1))
	assert.Equal(t, 3, partsForSize(2*MaxPartSize+1))
}

func TestComposeObjectValidation(t *testing.T) {
	sizes := map[string]int64{
		"big":   2 * MinPartSize,
		"small": 100,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		key := r.URL.Path[len("/src/"):]
		w.Header().Set("Content-Length", strconv.FormatInt(sizes[key], 10))
		w.Header().Set("ETag", `"`+key+`"`)
	}))
	defer server.Close()

	c := newTestClient(t, Options{Endpoint: server.URL})
	ctx := context.Background()

	_, err := c.ComposeObject(ctx, "dst", "out", nil, PutObjectOptions{})
	assert.IsType(t, InvalidArgumentError{}, err)

	// A small source is fine in last position only.
	_, err = c.ComposeObject(ctx, "dst", "out", []ComposeSource{
		{Bucket: "src", Object: "small"},
		{Bucket: "src", Object: "big"},
	}, PutObjectOptions{})
	require.Error(t, err)
	assert.IsType(t, InvalidArgumentError{}, err)
	assert.Contains(t, err.Error(), "small")
}

func TestComposeObject(t *testing.T) {
	sizes := map[string]int64{"one": 2 * MinPartSize, "two": 100}
	var mu sync.Mutex
	var copySources []string
	var completed *completeMultipartUpload
	aborted := false

	router := mux.NewRouter()
	router.Methods(http.MethodHead).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[len("/src/"):]
		size, ok := sizes[key]
		require.True(t, ok, "unexpected stat for %s", r.URL.Path)
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("ETag", `"etag-`+key+`"`)
	})
	router.Methods(http.MethodPost).Queries("uploads", "").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<InitiateMultipartUploadResult><UploadId>upload-1</UploadId></InitiateMultipartUploadResult>`))
	})
	router.Methods(http.MethodPut).Queries("uploadId", "upload-1", "partNumber", "{n}").
		HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			copySources = append(copySources, r.Header.Get("x-amz-copy-source"))
			mu.Unlock()
			n := mux.Vars(r)["n"]
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<CopyPartResult><ETag>"copy-%s"</ETag></CopyPartResult>`, n)
		})
	router.Methods(http.MethodPost).Queries("uploadId", "upload-1").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc completeMultipartUpload
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, xml.Unmarshal(body, &doc))
		mu.Lock()
		completed = &doc
		mu.Unlock()
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<CompleteMultipartUploadResult><ETag>"composed"</ETag></CompleteMultipartUploadResult>`))
	})
	router.Methods(http.MethodDelete).Queries("uploadId", "upload-1").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		aborted = true
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	c := newTestClient(t, Options{Endpoint: server.URL, AccessKey: "AK", SecretKey: "SK"})

	etag, err := c.ComposeObject(context.Background(), "dst", "out", []ComposeSource{
		{Bucket: "src", Object: "one"},
		{Bucket: "src", Object: "two"},
	}, PutObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "composed", etag)

	assert.Equal(t, []string{"/src/one", "/src/two"}, copySources)
	require.NotNil(t, completed)
	require.Len(t, completed.Parts, 2)
	assert.Equal(t, 1, completed.Parts[0].PartNumber)
	assert.Equal(t, "copy-1", completed.Parts[0].ETag)
	assert.False(t, aborted)
}

func TestComposeObjectAbortsOnCopyFailure(t *testing.T) {
	var mu sync.Mutex
	aborted := false

	router := mux.NewRouter()
	router.Methods(http.MethodHead).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(2*MinPartSize))
		w.Header().Set("ETag", `"e"`)
	})
	router.Methods(http.MethodPost).Queries("uploads", "").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<InitiateMultipartUploadResult><UploadId>upload-1</UploadId></InitiateMultipartUploadResult>`))
	})
	router.Methods(http.MethodPut).Queries("uploadId", "upload-1").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveXMLError(w, http.StatusForbidden, "AccessDenied", "cross-bucket copy denied")
	})
	router.Methods(http.MethodDelete).Queries("uploadId", "upload-1").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		aborted = true
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	c := newTestClient(t, Options{Endpoint: server.URL, AccessKey: "AK", SecretKey: "SK"})

	_, err := c.ComposeObject(context.Background(), "dst", "out", []ComposeSource{
		{Bucket: "src", Object: "one"},
	}, PutObjectOptions{})
	require.Error(t, err)
	assert.Equal(t, "AccessDenied", ToErrorResponse(err).Code)
	assert.True(t, aborted)
}

package s3

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploadServer records the multipart lifecycle calls it receives.
type fakeUploadServer struct {
	mu          sync.Mutex
	initiates   int
	partNumbers []string
	completed   *completeMultipartUpload
	aborted     bool
	singlePuts  int

	failPart     string // part number that answers 500
	completeBody string // overrides the complete response body
}

func (f *fakeUploadServer) handler() http.Handler {
	r := mux.NewRouter()

	r.Methods(http.MethodPost).Queries("uploads", "").HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.initiates++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<InitiateMultipartUploadResult><Bucket>bucket</Bucket>` +
			`<Key>key</Key><UploadId>upload-1</UploadId></InitiateMultipartUploadResult>`))
	})

	r.Methods(http.MethodPut).Queries("partNumber", "{n}", "uploadId", "upload-1").
		HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			n := mux.Vars(req)["n"]
			if n == f.failPart {
				serveXMLError(w, http.StatusInternalServerError, "InternalError", "part failed")
				return
			}
			f.mu.Lock()
			f.partNumbers = append(f.partNumbers, n)
			f.mu.Unlock()
			w.Header().Set("ETag", `"etag-`+n+`"`)
		})

	r.Methods(http.MethodPost).Queries("uploadId", "upload-1").
		HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			body, _ := io.ReadAll(req.Body)
			var doc completeMultipartUpload
			_ = xml.Unmarshal(body, &doc)
			f.mu.Lock()
			f.completed = &doc
			f.mu.Unlock()

			w.Header().Set("Content-Type", "application/xml")
			if f.completeBody != "" {
				_, _ = w.Write([]byte(f.completeBody))
				return
			}
			_, _ = w.Write([]byte(`<CompleteMultipartUploadResult><Bucket>bucket</Bucket>` +
				`<Key>key</Key><ETag>"final-etag"</ETag></CompleteMultipartUploadResult>`))
		})

	r.Methods(http.MethodDelete).Queries("uploadId", "upload-1").
		HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.aborted = true
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})

	r.Methods(http.MethodPut).HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.singlePuts++
		f.mu.Unlock()
		w.Header().Set("ETag", `"single-etag"`)
	})

	return r
}

func startFakeUploadServer(t *testing.T, f *fakeUploadServer) *Client {
	t.Helper()
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)
	return newTestClient(t, Options{Endpoint: server.URL, AccessKey: "AK", SecretKey: "SK"})
}

func TestPutObjectSmallUsesSinglePut(t *testing.T) {
	f := &fakeUploadServer{}
	c := startFakeUploadServer(t, f)

	etag, err := c.PutObject(context.Background(), "bucket", "key",
		bytes.NewReader([]byte("small payload")), 13, PutObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "single-etag", etag)
	assert.Equal(t, 1, f.singlePuts)
	assert.Zero(t, f.initiates, "no multipart upload for small payloads")
}

func TestPutObjectMultipartOrdering(t *testing.T) {
	f := &fakeUploadServer{}
	c := startFakeUploadServer(t, f)

	size := int64(MinPartSize + 1)
	etag, err := c.PutObject(context.Background(), "bucket", "key",
		bytes.NewReader(make([]byte, size)), size, PutObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "final-etag", etag)

	assert.Equal(t, 1, f.initiates)
	assert.Equal(t, []string{"1", "2"}, f.partNumbers)

	require.NotNil(t, f.completed)
	require.Len(t, f.completed.Parts, 2)
	assert.Equal(t, 1, f.completed.Parts[0].PartNumber)
	// Part ETags are sent unquoted; the quotes from the upload response
	// headers do not survive into the complete document.
	assert.Equal(t, "etag-1", f.completed.Parts[0].ETag)
	assert.Equal(t, 2, f.completed.Parts[1].PartNumber)
	assert.False(t, f.aborted)
}

func TestPutObjectAbortsOnPartFailure(t *testing.T) {
	f := &fakeUploadServer{failPart: "2"}
	c := startFakeUploadServer(t, f)

	size := int64(MinPartSize + 1)
	_, err := c.PutObject(context.Background(), "bucket", "key",
		bytes.NewReader(make([]byte, size)), size, PutObjectOptions{})
	require.Error(t, err)

	// The original part error surfaces, and the upload was aborted.
	assert.Equal(t, "InternalError", ToErrorResponse(err).Code)
	assert.True(t, f.aborted)
	assert.Nil(t, f.completed)
}

func TestPutObjectAbortsOnShortSource(t *testing.T) {
	f := &fakeUploadServer{}
	c := startFakeUploadServer(t, f)

	// The source delivers fewer bytes than the declared size.
	size := int64(MinPartSize + 1)
	_, err := c.PutObject(context.Background(), "bucket", "key",
		bytes.NewReader(make([]byte, MinPartSize)), size, PutObjectOptions{})
	require.Error(t, err)
	assert.True(t, f.aborted)
}

func TestCompleteParsesErrorDocumentOnOK(t *testing.T) {
	f := &fakeUploadServer{
		completeBody: `<Error><Code>InvalidPart</Code>` +
			`<Message>One or more of the specified parts could not be found.</Message></Error>`,
	}
	c := startFakeUploadServer(t, f)

	size := int64(MinPartSize + 1)
	_, err := c.PutObject(context.Background(), "bucket", "key",
		bytes.NewReader(make([]byte, size)), size, PutObjectOptions{})
	require.Error(t, err)
	assert.Equal(t, "InvalidPart", ToErrorResponse(err).Code)
	assert.True(t, f.aborted, "failed complete aborts the upload")
}

func TestCompleteToleratesUnknownDocument(t *testing.T) {
	f := &fakeUploadServer{completeBody: `<Unexpected/>`}
	c := startFakeUploadServer(t, f)

	size := int64(MinPartSize + 1)
	etag, err := c.PutObject(context.Background(), "bucket", "key",
		bytes.NewReader(make([]byte, size)), size, PutObjectOptions{})
	require.NoError(t, err)
	assert.Empty(t, etag, "a body matching neither schema completes without an ETag")
}

func TestPutObjectUnknownSizeSmallStream(t *testing.T) {
	f := &fakeUploadServer{}
	c := startFakeUploadServer(t, f)

	// The probe detects the stream fits a single part, so no multipart
	// upload is opened.
	etag, err := c.PutObject(context.Background(), "bucket", "key",
		bytes.NewReader([]byte("streamed payload")), -1, PutObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "single-etag", etag)
	assert.Equal(t, 1, f.singlePuts)
	assert.Zero(t, f.initiates)
}

func TestUploadPartValidation(t *testing.T) {
	c := newTestClient(t, Options{Endpoint: "http://localhost:9000"})
	ctx := context.Background()

	_, err := c.UploadPart(ctx, "bucket", "key", "u1", 0, bytes.NewReader(nil), 0)
	assert.IsType(t, InvalidArgumentError{}, err)

	_, err = c.UploadPart(ctx, "bucket", "key", "u1", MaxMultipartCount+1, bytes.NewReader(nil), 0)
	assert.IsType(t, InvalidArgumentError{}, err)

	_, err = c.UploadPart(ctx, "bucket", "key", "u1", 1, bytes.NewReader(nil), -1)
	assert.IsType(t, InvalidArgumentError{}, err)
}

func TestCompleteMultipartUploadSortsParts(t *testing.T) {
	f := &fakeUploadServer{}
	c := startFakeUploadServer(t, f)

	_, err := c.CompleteMultipartUpload(context.Background(), "bucket", "key", "upload-1",
		[]CompletedPart{
			{PartNumber: 3, ETag: "c"},
			{PartNumber: 1, ETag: "a"},
			{PartNumber: 2, ETag: "b"},
		})
	require.NoError(t, err)

	require.NotNil(t, f.completed)
	require.Len(t, f.completed.Parts, 3)
	assert.Equal(t, 1, f.completed.Parts[0].PartNumber)
	assert.Equal(t, 2, f.completed.Parts[1].PartNumber)
	assert.Equal(t, 3, f.completed.Parts[2].PartNumber)
}

func TestOptimalPartSize(t *testing.T) {
	partSize, partCount, err := optimalPartSize(0)
	require.NoError(t, err)
	assert.EqualValues(t, MinPartSize, partSize)
	assert.Equal(t, 1, partCount)

	partSize, partCount, err = optimalPartSize(MinPartSize)
	require.NoError(t, err)
	assert.EqualValues(t, MinPartSize, partSize)
	assert.Equal(t, 1, partCount)

	_, partCount, err = optimalPartSize(MinPartSize + 1)
	require.NoError(t, err)
	assert.Equal(t, 2, partCount)

	// Very large objects scale the part size so the count stays in range.
	partSize, partCount, err = optimalPartSize(MaxObjectSize)
	require.NoError(t, err)
	assert.LessOrEqual(t, partCount, MaxMultipartCount)
	assert.LessOrEqual(t, partSize, int64(MaxPartSize))

	_, _, err = optimalPartSize(MaxObjectSize + 1)
	assert.Error(t, err)

	_, partCount, _ = optimalPartSize(-1)
	assert.Equal(t, -1, partCount, "unknown length defers to the probing loop")
}

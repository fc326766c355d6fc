package store

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/einyx/objstream/internal/config"
	"github.com/einyx/objstream/pkg/s3"
)

func newTestStore(t *testing.T, endpoint string, cfg config.StoreConfig) *Store {
	t.Helper()
	client, err := s3.New(s3.Options{
		Endpoint:  endpoint,
		AccessKey: "AK",
		SecretKey: "SK",
	})
	require.NoError(t, err)
	return New(client, cfg)
}

func TestStorePut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/uploads/reports/daily.csv", r.URL.Path)
		w.Header().Set("ETag", `"etag-1"`)
	}))
	defer server.Close()

	st := newTestStore(t, server.URL, config.StoreConfig{Bucket: "uploads", Prefix: "reports/"})

	result := st.Put(context.Background(), "daily.csv", bytes.NewReader([]byte("a,b,c")), 5)
	assert.True(t, result.OK)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, "reports/daily.csv", result.Key)
	assert.Equal(t, "etag-1", result.ETag)
}

func TestStorePutFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code>` +
			`<Message>no write access</Message><RequestId>req-9</RequestId></Error>`))
	}))
	defer server.Close()

	st := newTestStore(t, server.URL, config.StoreConfig{Bucket: "uploads"})

	result := st.Put(context.Background(), "daily.csv", bytes.NewReader([]byte("x")), 1)
	assert.False(t, result.OK)
	assert.Equal(t, http.StatusForbidden, result.Status)
	assert.Equal(t, "AccessDenied", result.Code)
	assert.Equal(t, "req-9", result.RequestID)
	assert.Contains(t, result.Message, "no write access")
}

func TestStoreFailureWithoutServiceError(t *testing.T) {
	st := newTestStore(t, "http://localhost:9000", config.StoreConfig{Bucket: "uploads"})

	// The empty key never reaches the wire; the failure still carries a
	// usable status.
	result := st.Put(context.Background(), "", bytes.NewReader(nil), 0)
	assert.False(t, result.OK)
	assert.Equal(t, http.StatusInternalServerError, result.Status)
	assert.NotEmpty(t, result.Message)
}

func TestStoreMultipartFlow(t *testing.T) {
	type completeDoc struct {
		Parts []struct {
			PartNumber int    `xml:"PartNumber"`
			ETag       string `xml:"ETag"`
		} `xml:"Part"`
	}
	var completed completeDoc

	router := mux.NewRouter()
	router.Methods(http.MethodPost).Queries("uploads", "").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<InitiateMultipartUploadResult><UploadId>u-7</UploadId></InitiateMultipartUploadResult>`))
	})
	router.Methods(http.MethodPut).Queries("uploadId", "u-7", "partNumber", "{n}").
		HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", `"part-`+mux.Vars(r)["n"]+`"`)
		})
	router.Methods(http.MethodPost).Queries("uploadId", "u-7").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, xml.Unmarshal(body, &completed))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<CompleteMultipartUploadResult><ETag>"final"</ETag></CompleteMultipartUploadResult>`))
	})

	server := httptest.NewServer(router)
	defer server.Close()

	st := newTestStore(t, server.URL, config.StoreConfig{Bucket: "uploads"})
	ctx := context.Background()

	initiated := st.Initiate(ctx, "big.bin")
	require.True(t, initiated.OK)
	assert.Equal(t, "u-7", initiated.UploadID)

	part := st.UploadPart(ctx, "big.bin", "u-7", 1, strings.NewReader("data"), 4)
	require.True(t, part.OK)
	assert.Equal(t, "part-1", part.ETag)

	// Size and checksum are caller bookkeeping; the outcome comes from the
	// parts alone.
	done := st.Complete(ctx, "big.bin", "u-7", 8, "sha256:ignored", []string{"part-1", "part-2"})
	require.True(t, done.OK)
	assert.Equal(t, "final", done.ETag)

	// ETags are numbered from part 1 in the order given.
	require.Len(t, completed.Parts, 2)
	assert.Equal(t, 1, completed.Parts[0].PartNumber)
	assert.Equal(t, "part-1", completed.Parts[0].ETag)
	assert.Equal(t, 2, completed.Parts[1].PartNumber)
}

func TestStorePresignedGetDefaultsExpiry(t *testing.T) {
	st := newTestStore(t, "http://localhost:9000", config.StoreConfig{
		Bucket:        "uploads",
		Prefix:        "reports",
		PresignExpiry: time.Hour,
	})

	result := st.PresignedGet(context.Background(), "daily.csv", 0)
	require.True(t, result.OK)
	assert.Contains(t, result.URL, "/uploads/reports/daily.csv")
	assert.Contains(t, result.URL, "X-Amz-Expires=3600")

	result = st.PresignedGet(context.Background(), "daily.csv", 15*time.Minute)
	require.True(t, result.OK)
	assert.Contains(t, result.URL, "X-Amz-Expires=900")
}

func TestStoreDelete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	st := newTestStore(t, server.URL, config.StoreConfig{Bucket: "uploads"})
	result := st.Delete(context.Background(), "old.bin")
	assert.True(t, result.OK)
	assert.Equal(t, http.StatusNoContent, result.Status)
}

func TestStoreObjectKeyPrefix(t *testing.T) {
	st := &Store{prefix: "a/b/"}
	assert.Equal(t, "a/b/c.txt", st.objectKey("c.txt"))
	assert.Equal(t, "a/b/c.txt", st.objectKey("/c.txt"))

	st = &Store{}
	assert.Equal(t, "c.txt", st.objectKey("c.txt"))
}

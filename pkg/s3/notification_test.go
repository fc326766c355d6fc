package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenBucketNotification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "logs/", q.Get("prefix"))
		require.Equal(t, []string{"s3:ObjectCreated:*", "s3:ObjectRemoved:*"}, q["events"])

		w.Header().Set("Content-Type", "application/json")
		// Keepalive blank lines are interleaved with event records.
		_, _ = w.Write([]byte("\n" +
			`{"Records":[{"eventName":"s3:ObjectCreated:Put","s3":{"bucket":{"name":"bucket"},"object":{"key":"logs/a","size":42}}}]}` + "\n" +
			"\n" +
			`{"Records":[{"eventName":"s3:ObjectRemoved:Delete","s3":{"bucket":{"name":"bucket"},"object":{"key":"logs/b"}}}]}` + "\n"))
	}))
	defer server.Close()

	c := newTestClient(t, Options{Endpoint: server.URL})
	stream, err := c.ListenBucketNotification(context.Background(), "bucket", "logs/", "",
		[]string{"s3:ObjectCreated:*", "s3:ObjectRemoved:*"})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "s3:ObjectCreated:Put", ev.EventName)
	assert.Equal(t, "logs/a", ev.S3.Object.Key)
	assert.EqualValues(t, 42, ev.S3.Object.Size)

	ev, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "s3:ObjectRemoved:Delete", ev.EventName)

	// Server closed the stream: Done, and it stays Done.
	_, err = stream.Next()
	assert.Equal(t, Done, err)
	_, err = stream.Next()
	assert.Equal(t, Done, err)
}

func TestListenBucketNotificationRequiresEvents(t *testing.T) {
	c := newTestClient(t, Options{Endpoint: "http://localhost:9000"})
	_, err := c.ListenBucketNotification(context.Background(), "bucket", "", "", nil)
	assert.IsType(t, InvalidArgumentError{}, err)
}

func TestGetSetBucketNotification(t *testing.T) {
	var stored string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, r.URL.Query().Has("notification"))
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored = string(body)
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<NotificationConfiguration>
				<QueueConfiguration><Queue>arn:minio:sqs::1:webhook</Queue>
				<Event>s3:ObjectCreated:*</Event></QueueConfiguration>
			</NotificationConfiguration>`))
		}
	}))
	defer server.Close()

	c := newTestClient(t, Options{Endpoint: server.URL})
	ctx := context.Background()

	nc, err := c.GetBucketNotification(ctx, "bucket")
	require.NoError(t, err)
	require.Len(t, nc.Queues, 1)
	assert.Equal(t, "arn:minio:sqs::1:webhook", nc.Queues[0].Queue)

	err = c.SetBucketNotification(ctx, "bucket", nc)
	require.NoError(t, err)
	assert.Contains(t, stored, "<Queue>arn:minio:sqs::1:webhook</Queue>")
}

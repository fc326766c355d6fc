package s3

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GetBucketNotification returns the bucket's event notification targets.
func (c *Client) GetBucketNotification(ctx context.Context, bucket string) (NotificationConfiguration, error) {
	var nc NotificationConfiguration
	err := c.getBucketSubresource(ctx, bucket, "notification", "", &nc)
	return nc, err
}

// SetBucketNotification replaces the bucket's event notification targets.
// An empty configuration disables notifications.
func (c *Client) SetBucketNotification(ctx context.Context, bucket string, nc NotificationConfiguration) error {
	return c.setBucketSubresource(ctx, bucket, "notification", nc)
}

// NotificationEvent is one bucket event record.
type NotificationEvent struct {
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			Size      int64  `json:"size"`
			ETag      string `json:"eTag"`
			VersionID string `json:"versionId"`
		} `json:"object"`
	} `json:"s3"`
}

// notificationRecord is one line of the event stream; a line may batch
// several records.
type notificationRecord struct {
	Records []NotificationEvent `json:"Records"`
}

// NotificationStream delivers bucket events as they arrive. Close it to
// release the underlying connection.
type NotificationStream struct {
	body    interface{ Close() error }
	scanner *bufio.Scanner
	pending []NotificationEvent
	err     error
}

// Next blocks for the next event. It returns Done when the server ends the
// stream, or the read/parse error that broke it; either way the stream is
// finished.
func (s *NotificationStream) Next() (NotificationEvent, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return NotificationEvent{}, s.err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.err = err
			} else {
				s.err = Done
			}
			return NotificationEvent{}, s.err
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			// Keepalive.
			continue
		}
		var rec notificationRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.err = InternalError{Message: "malformed event record: " + err.Error()}
			return NotificationEvent{}, s.err
		}
		s.pending = rec.Records
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// Close ends the stream.
func (s *NotificationStream) Close() error {
	return s.body.Close()
}

// ListenBucketNotification opens a long-poll event stream for the bucket,
// filtered by key prefix, suffix and event names. The stream stays open
// until Close, the context ends, or the server disconnects.
func (c *Client) ListenBucketNotification(ctx context.Context, bucket, prefix, suffix string, events []string) (*NotificationStream, error) {
	if err := checkBucketName(bucket); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, InvalidArgumentError{Message: "at least one event type is required"}
	}

	query := url.Values{}
	query.Set("prefix", prefix)
	query.Set("suffix", suffix)
	for _, ev := range events {
		query.Add("events", ev)
	}

	resp, err := c.executeMethod(ctx, http.MethodGet, requestMetadata{
		bucket: bucket,
		query:  query,
	})
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &NotificationStream{body: resp.Body, scanner: scanner}, nil
}

package s3

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignedGetObject(t *testing.T) {
	c := newTestClient(t, Options{
		Endpoint:  "http://localhost:9000",
		AccessKey: "AK",
		SecretKey: "SK",
	})

	u, err := c.PresignedGetObject(context.Background(), "bucket", "dir/key.txt",
		15*time.Minute, nil)
	require.NoError(t, err)

	assert.Equal(t, "/bucket/dir/key.txt", u.EscapedPath())
	q := u.Query()
	assert.Equal(t, signV4Algorithm, q.Get("X-Amz-Algorithm"))
	assert.Equal(t, "900", q.Get("X-Amz-Expires"))
	assert.Equal(t, "host", q.Get("X-Amz-SignedHeaders"))
	assert.Contains(t, q.Get("X-Amz-Credential"), "AK/")
	assert.Len(t, q.Get("X-Amz-Signature"), 64)
	assert.Empty(t, q.Get("X-Amz-Content-Sha256"), "payload hash stays out of the URL")
}

func TestPresignedExpiryBounds(t *testing.T) {
	c := newTestClient(t, Options{
		Endpoint:  "http://localhost:9000",
		AccessKey: "AK",
		SecretKey: "SK",
	})
	ctx := context.Background()

	_, err := c.PresignedGetObject(ctx, "bucket", "key", 0, nil)
	assert.IsType(t, InvalidExpiryError{}, err)

	_, err = c.PresignedGetObject(ctx, "bucket", "key", -time.Minute, nil)
	assert.IsType(t, InvalidExpiryError{}, err)

	_, err = c.PresignedPutObject(ctx, "bucket", "key", DefaultExpiry+time.Second)
	assert.IsType(t, InvalidExpiryError{}, err)

	// Exactly the maximum is allowed.
	_, err = c.PresignedPutObject(ctx, "bucket", "key", DefaultExpiry)
	assert.NoError(t, err)
}

func TestPresignedCarriesRequestParams(t *testing.T) {
	c := newTestClient(t, Options{
		Endpoint:  "http://localhost:9000",
		AccessKey: "AK",
		SecretKey: "SK",
	})

	params := url.Values{}
	params.Set("response-content-disposition", `attachment; filename="report.pdf"`)

	u, err := c.PresignedGetObject(context.Background(), "bucket", "key",
		time.Hour, params)
	require.NoError(t, err)
	assert.Equal(t, `attachment; filename="report.pdf"`,
		u.Query().Get("response-content-disposition"))
}

func TestPresignedAnonymousPlainURL(t *testing.T) {
	c := newTestClient(t, Options{Endpoint: "http://localhost:9000"})

	u, err := c.PresignedGetObject(context.Background(), "bucket", "key",
		time.Hour, nil)
	require.NoError(t, err)
	assert.Empty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "/bucket/key", u.EscapedPath())
}

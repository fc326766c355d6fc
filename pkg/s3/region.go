package s3

import (
	"context"
	"encoding/xml"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
)

// RegionCache maps bucket names to resolved regions. Implementations must be
// safe for concurrent use; duplicate population of the same bucket is benign.
type RegionCache interface {
	Get(bucket string) (string, bool)
	Set(bucket, region string)
	Delete(bucket string)
}

// mapRegionCache is the default RegionCache, a mutex-guarded map living for
// the process lifetime.
type mapRegionCache struct {
	mu      sync.RWMutex
	regions map[string]string
}

// sharedRegionCache is used by every client that does not inject its own
// cache, so one process resolves each bucket's region at most once.
var sharedRegionCache RegionCache = &mapRegionCache{regions: make(map[string]string)}

func (m *mapRegionCache) Get(bucket string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	region, ok := m.regions[bucket]
	return region, ok
}

func (m *mapRegionCache) Set(bucket, region string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[bucket] = region
}

func (m *mapRegionCache) Delete(bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, bucket)
}

// locationConstraint is the GetBucketLocation response document.
type locationConstraint struct {
	XMLName  xml.Name `xml:"LocationConstraint"`
	Location string   `xml:",chardata"`
}

// getRegion resolves the region to address and sign a request for bucket.
// An explicit region argument wins but must not contradict a fixed client
// region. Lookups go straight to the execute primitive against the default
// region; routing them through getRegion again would recurse forever.
func (c *Client) getRegion(ctx context.Context, bucket, region string) (string, error) {
	if region != "" {
		if c.region != "" && c.region != region {
			return "", ConfigError{Reason: "region must be " + c.region + ", but passed " + region}
		}
		return region, nil
	}

	if c.region != "" {
		return c.region, nil
	}

	if !c.isAWSHost || bucket == "" || c.anonymous() {
		return defaultRegion, nil
	}

	if cached, ok := c.regionCache.Get(bucket); ok {
		return cached, nil
	}

	resp, err := c.execute(ctx, "GET", requestMetadata{
		bucket: bucket,
		region: defaultRegion,
		query:  url.Values{"location": {""}},
	})
	if err != nil {
		return "", err
	}
	defer closeResponse(resp)

	var lc locationConstraint
	if err := xml.NewDecoder(resp.Body).Decode(&lc); err != nil {
		return "", InvalidResponseError{StatusCode: resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type")}
	}

	resolved := lc.Location
	switch resolved {
	case "":
		resolved = defaultRegion
	case "EU":
		// Legacy alias for the original European region.
		resolved = "eu-west-1"
	}

	c.regionCache.Set(bucket, resolved)
	c.log.WithFields(logrus.Fields{
		"bucket": bucket,
		"region": resolved,
	}).Debug("Resolved bucket region")

	return resolved, nil
}

// Package s3 implements a client for S3-compatible object storage services.
//
// The client builds addressable requests, signs them with AWS Signature V4,
// executes them over HTTP and interprets service responses, layering the
// multi-step protocols (multipart upload, server-side compose, paginated
// listing) on top of a single execute primitive. If credentials are
// configured all requests are signed; otherwise they are sent anonymously.
package s3

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options configures a Client. The whole struct is validated once by New;
// there are no partially-constructed clients.
type Options struct {
	// Endpoint is the service base URL, e.g. "https://s3.amazonaws.com" or
	// "http://localhost:9000". A bare host is taken as HTTPS.
	Endpoint string

	// Region pins every operation to one region. Leave empty to resolve
	// regions per bucket (AWS endpoints only).
	Region string

	// AccessKey and SecretKey sign requests. Leave both empty for anonymous
	// access.
	AccessKey string
	SecretKey string

	// VirtualStyle addresses buckets as subdomains instead of path segments.
	VirtualStyle bool

	// Accelerate switches AWS endpoints to the transfer-accelerated host.
	Accelerate bool

	// DualStack switches AWS endpoints to the IPv4/IPv6 dual-stack host.
	DualStack bool

	// Transport overrides the HTTP transport. Nil uses a transport with the
	// client's default dial/TLS timeouts.
	Transport http.RoundTripper

	// RegionCache overrides the process-wide bucket→region cache. Nil uses
	// the shared default.
	RegionCache RegionCache

	// Metrics registers request metrics with the given registerer. Nil
	// disables metrics.
	Metrics prometheus.Registerer
}

// Client performs bucket and object operations against one endpoint.
// A single Client is safe for concurrent use; the only shared mutable state
// is the region cache.
type Client struct {
	endpointURL *url.URL
	region      string
	accessKey   string
	secretKey   string

	isAWSHost         bool
	isAcceleratedHost bool
	isDualStackHost   bool
	useVirtualStyle   bool

	httpClient  *http.Client
	regionCache RegionCache
	userAgent   string
	metrics     *requestMetrics

	trace io.Writer
	log   *logrus.Entry
}

// libraryVersion is stamped by the release build.
var libraryVersion = "dev"

// New validates opts as a whole and returns a ready client.
func New(opts Options) (*Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		return nil, ConfigError{Reason: "empty endpoint"}
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, ConfigError{Reason: fmt.Sprintf("invalid endpoint %q: %v", opts.Endpoint, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ConfigError{Reason: fmt.Sprintf("unsupported endpoint scheme %q", u.Scheme)}
	}
	if u.Path != "" && u.Path != "/" {
		return nil, ConfigError{Reason: "endpoint must not carry a path"}
	}
	u.Path = ""

	if (opts.AccessKey == "") != (opts.SecretKey == "") {
		return nil, ConfigError{Reason: "access key and secret key must be given together"}
	}

	isAWS := isAmazonHost(u.Hostname())
	if opts.Accelerate && !isAWS {
		return nil, ConfigError{Reason: "transfer acceleration requires an AWS endpoint"}
	}
	if opts.DualStack && !isAWS {
		return nil, ConfigError{Reason: "dual-stack addressing requires an AWS endpoint"}
	}

	transport := opts.Transport
	if transport == nil {
		transport = defaultTransport()
	}

	cache := opts.RegionCache
	if cache == nil {
		cache = sharedRegionCache
	}

	c := &Client{
		endpointURL:       u,
		region:            opts.Region,
		accessKey:         opts.AccessKey,
		secretKey:         opts.SecretKey,
		isAWSHost:         isAWS,
		isAcceleratedHost: opts.Accelerate,
		isDualStackHost:   opts.DualStack,
		useVirtualStyle:   opts.VirtualStyle || isAWS,
		httpClient: &http.Client{
			Transport: transport,
		},
		regionCache: cache,
		userAgent:   "objstream/" + libraryVersion,
		log: logrus.WithFields(logrus.Fields{
			"component": "s3client",
			"endpoint":  u.Host,
		}),
	}

	if opts.Metrics != nil {
		c.metrics = newRequestMetrics(opts.Metrics)
	}

	c.log.WithFields(logrus.Fields{
		"region":       opts.Region,
		"virtualStyle": c.useVirtualStyle,
		"accelerate":   opts.Accelerate,
		"dualStack":    opts.DualStack,
		"anonymous":    opts.AccessKey == "",
	}).Debug("S3 client created")

	return c, nil
}

// defaultTransport mirrors the timeouts used across the project's HTTP
// clients.
func defaultTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 2 * time.Second,
	}
}

// SetTimeout applies one overall per-request timeout. Zero removes it.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// SetAppInfo appends application name/version to the User-Agent header.
func (c *Client) SetAppInfo(name, version string) {
	if name != "" && version != "" {
		c.userAgent = "objstream/" + libraryVersion + " " + name + "/" + version
	}
}

// TraceOn writes request/response summaries to w until TraceOff is called.
func (c *Client) TraceOn(w io.Writer) {
	c.trace = w
}

// TraceOff stops request tracing.
func (c *Client) TraceOff() {
	c.trace = nil
}

// EndpointURL returns a copy of the configured endpoint URL.
func (c *Client) EndpointURL() url.URL {
	return *c.endpointURL
}

func (c *Client) secure() bool {
	return c.endpointURL.Scheme == "https"
}

func (c *Client) anonymous() bool {
	return c.accessKey == "" || c.secretKey == ""
}

// isAmazonHost reports whether host belongs to the AWS S3 host family, which
// enables region auto-discovery and virtual-hosted addressing rewrites.
func isAmazonHost(host string) bool {
	host = strings.ToLower(host)
	return host == "s3.amazonaws.com" ||
		host == "s3-accelerate.amazonaws.com" ||
		(strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-")) &&
			strings.HasSuffix(host, ".amazonaws.com")
}

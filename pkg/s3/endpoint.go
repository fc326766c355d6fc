package s3

import (
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var validBucketName = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]+[a-z0-9]$`)

// checkBucketName validates that name is DNS compatible. Violations fail
// before any network call.
func checkBucketName(name string) error {
	if name == "" {
		return InvalidBucketNameError{Bucket: name, Reason: "empty bucket name"}
	}
	if len(name) < 3 || len(name) > 63 {
		return InvalidBucketNameError{Bucket: name,
			Reason: "must be at least 3 and no more than 63 characters long"}
	}
	if strings.Contains(name, "..") {
		return InvalidBucketNameError{Bucket: name,
			Reason: "successive periods are not allowed"}
	}
	if !validBucketName.MatchString(name) {
		return InvalidBucketNameError{Bucket: name,
			Reason: "must only contain lowercase letters, digits, periods and hyphens"}
	}
	return nil
}

// checkObjectName rejects empty keys and keys containing '.' or '..' path
// segments, which cannot be addressed unambiguously.
func checkObjectName(name string) error {
	if name == "" {
		return InvalidObjectNameError{Object: name, Reason: "empty object name"}
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "." || segment == ".." {
			return InvalidObjectNameError{Object: name,
				Reason: "'.' or '..' path segments are not supported"}
		}
	}
	return nil
}

// encodePath percent-encodes an object key for use in a URL path. The
// encoding follows the signature canonicalization rules (unreserved
// characters per RFC 3986, '/' kept) and is byte-identical across calls.
func encodePath(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '_' || c == '.' || c == '~' || c == '/':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

// queryEncode renders query parameters sorted by key with each key and value
// percent-encoded individually. Signing requires the encoding to be stable.
func queryEncode(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), v[k]...)
		sort.Strings(vals)
		ek := encodeQueryComponent(k)
		for _, val := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(ek)
			b.WriteByte('=')
			b.WriteString(encodeQueryComponent(val))
		}
	}
	return b.String()
}

func encodeQueryComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '_' || c == '.' || c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

// makeTargetURL builds the canonical URL for one request. The bucket is
// addressed virtual-hosted-style unless the operation forces path style:
// bucket creation, location queries, and dotted bucket names over HTTPS
// (which break wildcard certificates).
func (c *Client) makeTargetURL(method, bucket, object, region string, query url.Values) (*url.URL, error) {
	if bucket == "" && object != "" {
		return nil, InvalidBucketNameError{Bucket: bucket,
			Reason: "empty bucket name for object '" + object + "'"}
	}

	u := *c.endpointURL
	host := u.Hostname()
	if p := u.Port(); p != "" {
		host = host + ":" + p
	}
	var path strings.Builder

	if bucket != "" {
		if err := checkBucketName(bucket); err != nil {
			return nil, err
		}

		enforcePathStyle := false
		switch {
		case method == "PUT" && object == "" && query == nil:
			// Path style works around AuthorizationHeaderMalformed from
			// s3.amazonaws.com on bucket creation.
			enforcePathStyle = true
		case query.Has("location"):
			enforcePathStyle = true
		case strings.Contains(bucket, ".") && c.secure():
			enforcePathStyle = true
		}

		if c.isAWSHost {
			s3Domain := "s3."
			if c.isAcceleratedHost {
				if strings.Contains(bucket, ".") {
					return nil, InvalidBucketNameError{Bucket: bucket,
						Reason: "'.' is not allowed for accelerated endpoint"}
				}
				if !enforcePathStyle {
					s3Domain = "s3-accelerate."
				}
			}

			dualStack := ""
			if c.isDualStackHost {
				dualStack = "dualstack."
			}

			endpoint := s3Domain + dualStack
			if enforcePathStyle || !c.isAcceleratedHost {
				endpoint += region + "."
			}
			host = endpoint + "amazonaws.com"
		}

		if enforcePathStyle || !c.useVirtualStyle {
			u.Host = host
			path.WriteByte('/')
			path.WriteString(encodePath(bucket))
		} else {
			u.Host = bucket + "." + host
		}

		if object != "" {
			if err := checkObjectName(object); err != nil {
				return nil, err
			}
			path.WriteByte('/')
			path.WriteString(encodePath(object))
		}
	} else if c.isAWSHost {
		u.Host = "s3." + region + ".amazonaws.com"
	}

	if path.Len() == 0 {
		path.WriteByte('/')
	}

	u.Path = ""
	u.RawPath = ""
	u.Opaque = ""
	u.RawQuery = queryEncode(query)

	// Keep the encoded path verbatim; re-encoding would break signing.
	parsed, err := url.Parse(u.Scheme + "://" + u.Host + path.String())
	if err != nil {
		return nil, InternalError{Message: "failed to build target URL: " + err.Error()}
	}
	parsed.RawQuery = u.RawQuery
	return parsed, nil
}

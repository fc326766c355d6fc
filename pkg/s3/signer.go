package s3

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	signV4Algorithm = "AWS4-HMAC-SHA256"
	serviceName     = "s3"
)

// Headers excluded from signing: they are either set by the transport after
// signing or vary without affecting request semantics.
var ignoredSignHeaders = map[string]bool{
	"Authorization":   true,
	"User-Agent":      true,
	"Accept-Encoding": true,
}

func sumHMAC(key []byte, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashBody computes the content hashes of body without consuming it. The
// reader is rewound to its starting offset afterwards.
func hashBody(body io.ReadSeeker, wantSHA256 bool) (sha256Hex, md5Base64 string, err error) {
	start, err := body.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", "", err
	}

	sha := sha256.New()
	md := md5.New()
	var w io.Writer = md
	if wantSHA256 {
		w = io.MultiWriter(sha, md)
	}
	if _, err := io.Copy(w, body); err != nil {
		return "", "", err
	}
	if _, err := body.Seek(start, io.SeekStart); err != nil {
		return "", "", err
	}

	if wantSHA256 {
		sha256Hex = hex.EncodeToString(sha.Sum(nil))
	}
	md5Base64 = base64.StdEncoding.EncodeToString(md.Sum(nil))
	return sha256Hex, md5Base64, nil
}

// signedHeaderNames returns the sorted lowercase names of the headers that
// participate in signing. Host always participates.
func signedHeaderNames(header http.Header) []string {
	names := []string{"host"}
	for name := range header {
		if ignoredSignHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}

func canonicalHeaders(req *http.Request, names []string) string {
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		if name == "host" {
			b.WriteString(hostHeaderValue(req))
		} else {
			values := req.Header.Values(http.CanonicalHeaderKey(name))
			for i, v := range values {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(strings.Join(strings.Fields(v), " "))
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// hostHeaderValue drops the port when it matches the scheme default, which
// is how the service canonicalizes Host on its side.
func hostHeaderValue(req *http.Request) string {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	if h, p, ok := strings.Cut(host, ":"); ok {
		if (req.URL.Scheme == "http" && p == "80") || (req.URL.Scheme == "https" && p == "443") {
			return h
		}
	}
	return host
}

// canonicalRequest assembles the deterministic request description that the
// signature covers.
func canonicalRequest(req *http.Request, signedNames []string, payloadHash string) string {
	canonicalURI := req.URL.EscapedPath()
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	return strings.Join([]string{
		req.Method,
		canonicalURI,
		canonicalQueryString(req.URL),
		canonicalHeaders(req, signedNames),
		strings.Join(signedNames, ";"),
		payloadHash,
	}, "\n")
}

// canonicalQueryString re-encodes the query with sorted keys and values so
// repeated signing of the same request is byte-identical.
func canonicalQueryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return queryEncode(u.Query())
}

func credentialScope(t time.Time, region string) string {
	return strings.Join([]string{
		t.Format(signDateFormat), region, serviceName, "aws4_request",
	}, "/")
}

func signingKey(secretKey string, t time.Time, region string) []byte {
	date := sumHMAC([]byte("AWS4"+secretKey), []byte(t.Format(signDateFormat)))
	regionKey := sumHMAC(date, []byte(region))
	service := sumHMAC(regionKey, []byte(serviceName))
	return sumHMAC(service, []byte("aws4_request"))
}

func stringToSign(t time.Time, scope, canonicalRequestHash string) string {
	return strings.Join([]string{
		signV4Algorithm,
		t.Format(amzDateFormat),
		scope,
		canonicalRequestHash,
	}, "\n")
}

// signV4 adds the Authorization header to req. The x-amz-date and
// x-amz-content-sha256 headers must already be set.
func signV4(req *http.Request, region, accessKey, secretKey string, signTime time.Time) {
	payloadHash := req.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = unsignedPayload
	}

	signedNames := signedHeaderNames(req.Header)
	creq := canonicalRequest(req, signedNames, payloadHash)
	scope := credentialScope(signTime, region)
	sts := stringToSign(signTime, scope, sha256Hex([]byte(creq)))
	signature := hex.EncodeToString(sumHMAC(signingKey(secretKey, signTime, region), []byte(sts)))

	req.Header.Set("Authorization", strings.Join([]string{
		signV4Algorithm + " Credential=" + accessKey + "/" + scope,
		"SignedHeaders=" + strings.Join(signedNames, ";"),
		"Signature=" + signature,
	}, ", "))
}

// presignV4 embeds the signature into the request URL as query parameters.
// The expiry must already be validated against the protocol bound.
func presignV4(req *http.Request, region, accessKey, secretKey string, signTime time.Time, expirySeconds int64) *url.URL {
	scope := credentialScope(signTime, region)

	query := req.URL.Query()
	query.Set("X-Amz-Algorithm", signV4Algorithm)
	query.Set("X-Amz-Credential", accessKey+"/"+scope)
	query.Set("X-Amz-Date", signTime.Format(amzDateFormat))
	query.Set("X-Amz-Expires", strconv.FormatInt(expirySeconds, 10))
	query.Set("X-Amz-SignedHeaders", "host")
	req.URL.RawQuery = queryEncode(query)

	creq := canonicalRequest(req, []string{"host"}, unsignedPayload)
	sts := stringToSign(signTime, scope, sha256Hex([]byte(creq)))
	signature := hex.EncodeToString(sumHMAC(signingKey(secretKey, signTime, region), []byte(sts)))

	signed := *req.URL
	signed.RawQuery = req.URL.RawQuery + "&X-Amz-Signature=" + signature
	return &signed
}

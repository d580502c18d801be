// Package usersig issues and decodes the transport's signed join
// credentials. The wire format is fixed by the transport vendor:
// a JSON field set carrying an HMAC-SHA256 signature, zlib-deflated,
// base64-encoded, with url-unsafe characters substituted.
package usersig

import (
	"bytes"
	"compress/zlib"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const version = "2.0"

var (
	escaper   = strings.NewReplacer("+", "*", "/", "-", "=", "_")
	unescaper = strings.NewReplacer("_", "=", "-", "/", "*", "+")
)

// field order matters: the decoded document must match the vendor's.
type sigDoc struct {
	Ver        string `json:"TLS.ver"`
	Identifier string `json:"TLS.identifier"`
	SDKAppID   int    `json:"TLS.sdkappid"`
	Time       int64  `json:"TLS.time"`
	Expire     int64  `json:"TLS.expire"`
	Userbuf    string `json:"TLS.userbuf,omitempty"`
	Sig        string `json:"TLS.sig"`
}

// Issue derives a signed, time-limited credential for (appID, identity).
// On invalid input it returns the empty string — the empty-signature
// sentinel — and never an error; callers must check before use.
func Issue(appID int, identity, secret string, ttl time.Duration) string {
	return issueAt(appID, identity, secret, ttl, nil, time.Now())
}

// IssueWithBuffer is Issue with an opaque userbuf bound into the
// signature.
func IssueWithBuffer(appID int, identity, secret string, ttl time.Duration, userbuf []byte) string {
	return issueAt(appID, identity, secret, ttl, userbuf, time.Now())
}

func issueAt(appID int, identity, secret string, ttl time.Duration, userbuf []byte, now time.Time) string {
	if appID <= 0 || identity == "" || secret == "" {
		return ""
	}

	doc := sigDoc{
		Ver:        version,
		Identifier: identity,
		SDKAppID:   appID,
		Time:       now.Unix(),
		Expire:     int64(ttl / time.Second),
	}
	if userbuf != nil {
		doc.Userbuf = base64.StdEncoding.EncodeToString(userbuf)
	}
	doc.Sig = sign(doc, secret)

	raw, err := json.Marshal(doc)
	if err != nil {
		return ""
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return ""
	}
	if err := zw.Close(); err != nil {
		return ""
	}
	return escaper.Replace(base64.StdEncoding.EncodeToString(buf.Bytes()))
}

// sign builds the line-oriented signing string and HMACs it. The field
// order is fixed: identifier, sdkappid, time, expire, then userbuf when
// present.
func sign(doc sigDoc, secret string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TLS.identifier:%s\n", doc.Identifier)
	fmt.Fprintf(&b, "TLS.sdkappid:%d\n", doc.SDKAppID)
	fmt.Fprintf(&b, "TLS.time:%d\n", doc.Time)
	fmt.Fprintf(&b, "TLS.expire:%d\n", doc.Expire)
	if doc.Userbuf != "" {
		fmt.Fprintf(&b, "TLS.userbuf:%s\n", doc.Userbuf)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Decode is the exact inverse of Issue: reverse the substitution,
// base64-decode, inflate, parse. Used for verification and debugging,
// not in the production issuance flow.
func Decode(sig string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(unescaper.Replace(sig))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open deflate stream: %w", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, fmt.Errorf("parse sig document: %w", err)
	}
	return doc, nil
}

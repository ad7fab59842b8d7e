// Package qr builds the payload carried by a visit QR code and renders it
// as a PNG.
package qr

import (
	"errors"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

const prefix = "ivqr:v1:"

// ErrMalformedPayload is returned when a scanned code cannot be parsed.
var ErrMalformedPayload = errors.New("malformed qr payload")

// Payload is what a student device decodes from a visit QR code.
type Payload struct {
	VisitID string
	Token   string
}

// String encodes p as "ivqr:v1:<visit>:<token>".
func (p Payload) String() string {
	return prefix + p.VisitID + ":" + p.Token
}

// URL wraps the payload in a check-in link under baseURL, so phones
// without the app land on the check-in page.
func (p Payload) URL(baseURL string) string {
	if baseURL == "" {
		return p.String()
	}
	return strings.TrimRight(baseURL, "/") + "/checkin?code=" + url.QueryEscape(p.String())
}

// Parse accepts the output of String or URL, or a bare token value.
func Parse(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Payload{}, ErrMalformedPayload
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Payload{}, ErrMalformedPayload
		}
		code := u.Query().Get("code")
		if code == "" {
			return Payload{}, ErrMalformedPayload
		}
		s = code
	}
	if !strings.HasPrefix(s, prefix) {
		if strings.ContainsAny(s, ": /") {
			return Payload{}, ErrMalformedPayload
		}
		return Payload{Token: s}, nil
	}
	visitID, token, ok := strings.Cut(strings.TrimPrefix(s, prefix), ":")
	if !ok || visitID == "" || token == "" {
		return Payload{}, ErrMalformedPayload
	}
	return Payload{VisitID: visitID, Token: token}, nil
}

// PNG renders content as a square QR image of size pixels.
func PNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 300
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}

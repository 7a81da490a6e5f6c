// Package qrtoken encodes and decodes the payload carried inside attendance
// QR codes.
//
// Two JSON shapes are accepted on decode: the compact form
// {"l":<lecture>,"n":<nonce>,"e":<iso-expiry|null>} and the legacy form
// {"lecture_id":...,"nonce":...,"expiry":...}. Encode always emits the
// compact form. Payloads are unsigned unless the codec is built with a
// signing secret, in which case an "s" field carries an HMAC-SHA256 over the
// three logical fields.
package qrtoken

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// ErrInvalidToken is wrapped by every decode failure.
var ErrInvalidToken = errors.New("invalid attendance token")

const hkdfInfo = "lumina-attendance/qr-payload/v1"

// naiveLayouts parse ISO timestamps without an offset; they are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Payload is the logical content of an attendance QR code.
type Payload struct {
	LectureID string
	Nonce     string
	Expiry    *time.Time
}

// Codec converts payloads to and from their wire form.
type Codec struct {
	key []byte
	now func() time.Time
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSigningSecret enables HMAC signing. The MAC key is derived from the
// secret with HKDF-SHA256 so the raw secret is never used directly.
func WithSigningSecret(secret string) Option {
	return func(c *Codec) {
		if secret == "" {
			c.key = nil
			return
		}
		key := make([]byte, 32)
		reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(reader, key); err != nil {
			// hkdf only fails past 255*hash-size bytes of output.
			panic(fmt.Sprintf("qrtoken: derive key: %v", err))
		}
		c.key = key
	}
}

// NewCodec builds a codec. Without options it is unsigned and uses time.Now.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signed reports whether the codec signs and verifies payloads.
func (c *Codec) Signed() bool {
	return len(c.key) > 0
}

type compactWire struct {
	L string  `json:"l"`
	N string  `json:"n"`
	E *string `json:"e"`
	S string  `json:"s,omitempty"`
}

type rawWire struct {
	L         json.RawMessage `json:"l"`
	N         *string         `json:"n"`
	E         *string         `json:"e"`
	S         string          `json:"s"`
	LectureID json.RawMessage `json:"lecture_id"`
	Nonce     *string         `json:"nonce"`
	Expiry    *string         `json:"expiry"`
}

// Encode renders the payload in compact form.
func (c *Codec) Encode(p Payload) (string, error) {
	if p.LectureID == "" || p.Nonce == "" {
		return "", fmt.Errorf("%w: lecture and nonce are required", ErrInvalidToken)
	}
	wire := compactWire{L: p.LectureID, N: p.Nonce}
	if p.Expiry != nil {
		formatted := formatExpiry(*p.Expiry)
		wire.E = &formatted
	}
	if c.Signed() {
		wire.S = c.sign(wire.L, wire.N, wire.E)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode attendance token: %w", err)
	}
	return string(raw), nil
}

// Decode parses raw and validates its expiry against the codec clock. When
// maxAge is positive, an expiry further than maxAge in the future is
// rejected as well. A null expiry is accepted.
func (c *Codec) Decode(raw string, maxAge time.Duration) (*Payload, error) {
	var wire rawWire
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrInvalidToken, err)
	}

	var (
		lectureRaw json.RawMessage
		nonce      *string
		expiryRaw  *string
	)
	switch {
	case len(wire.L) > 0 && wire.N != nil:
		lectureRaw, nonce, expiryRaw = wire.L, wire.N, wire.E
	case len(wire.LectureID) > 0 && wire.Nonce != nil:
		lectureRaw, nonce, expiryRaw = wire.LectureID, wire.Nonce, wire.Expiry
	default:
		return nil, fmt.Errorf("%w: missing required fields", ErrInvalidToken)
	}

	lectureID, err := lectureRef(lectureRaw)
	if err != nil {
		return nil, err
	}
	if *nonce == "" {
		return nil, fmt.Errorf("%w: empty nonce", ErrInvalidToken)
	}

	if c.Signed() {
		if wire.S == "" {
			return nil, fmt.Errorf("%w: missing signature", ErrInvalidToken)
		}
		expected := c.sign(lectureID, *nonce, expiryRaw)
		if !hmac.Equal([]byte(expected), []byte(wire.S)) {
			return nil, fmt.Errorf("%w: invalid signature", ErrInvalidToken)
		}
	}

	payload := &Payload{LectureID: lectureID, Nonce: *nonce}
	if expiryRaw != nil && *expiryRaw != "" {
		expiry, err := parseExpiry(*expiryRaw)
		if err != nil {
			return nil, err
		}
		now := c.now()
		if now.After(expiry) {
			return nil, fmt.Errorf("%w: expired at %s", ErrInvalidToken, expiry.Format(time.RFC3339))
		}
		if maxAge > 0 && expiry.Sub(now) > maxAge {
			return nil, fmt.Errorf("%w: expiry too far in the future", ErrInvalidToken)
		}
		payload.Expiry = &expiry
	}
	return payload, nil
}

func (c *Codec) sign(lectureID, nonce string, expiry *string) string {
	exp := ""
	if expiry != nil {
		exp = *expiry
	}
	mac := hmac.New(sha256.New, c.key)
	_, _ = mac.Write([]byte(strings.Join([]string{lectureID, nonce, exp}, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// lectureRef accepts a JSON string or number; older clients sent numeric ids.
func lectureRef(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing lecture", ErrInvalidToken)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", fmt.Errorf("%w: invalid lecture", ErrInvalidToken)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: invalid lecture", ErrInvalidToken)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", fmt.Errorf("%w: invalid lecture", ErrInvalidToken)
	}
	return n.String(), nil
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseExpiry(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid expiry format %q", ErrInvalidToken, raw)
}

// NewNonce returns 256 bits of randomness, base64 encoded.
func NewNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

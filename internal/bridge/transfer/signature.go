package transfer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleSignature   = errors.New("stale signature timestamp")
)

// DefaultTolerance is the accepted clock skew for timestamped signatures.
const DefaultTolerance = 5 * time.Minute

// Verifier checks the voice-agent platform's request signature:
//
//	v=<unix millis>,d=<hex HMAC-SHA256(secret, body + unix millis)>
//
// A bare hex HMAC-SHA256(secret, body) is also accepted.
type Verifier struct {
	secret    []byte
	Tolerance time.Duration
	Now       func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), Tolerance: DefaultTolerance, Now: time.Now}
}

// Verify checks header against body.
func (v *Verifier) Verify(body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	if len(v.secret) == 0 {
		return ErrInvalidSignature
	}

	ts, digest, ok := parseHeader(header)
	if !ok {
		return v.compare(body, "", header)
	}

	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signedAt := time.UnixMilli(millis)
	now := v.Now()
	if now.Sub(signedAt) > v.Tolerance || signedAt.Sub(now) > v.Tolerance {
		return ErrStaleSignature
	}
	return v.compare(body, ts, digest)
}

func (v *Verifier) compare(body []byte, ts, digest string) error {
	expected := computeDigest(v.secret, body, ts)
	got, err := hex.DecodeString(strings.ToLower(digest))
	if err != nil || !hmac.Equal(expected, got) {
		return ErrInvalidSignature
	}
	return nil
}

func parseHeader(h string) (ts, digest string, ok bool) {
	for _, part := range strings.Split(h, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "v":
			ts = val
		case "d":
			digest = val
		}
	}
	return ts, digest, ts != "" && digest != ""
}

func computeDigest(secret, body []byte, ts string) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	_, _ = mac.Write([]byte(ts))
	return mac.Sum(nil)
}

// Sign produces a timestamped signature header for body.
func Sign(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	return "v=" + ts + ",d=" + hex.EncodeToString(computeDigest([]byte(secret), body, ts))
}

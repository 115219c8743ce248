package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// SignatureLen is the number of HMAC-SHA-256 digest bytes kept in a token.
	SignatureLen = 16
	// SignatureHexLen is the width of the signature segment.
	SignatureHexLen = SignatureLen * 2
	// EncodedPayloadLen is the width of the unpadded Base64url payload segment.
	EncodedPayloadLen = (PayloadLen*8 + 5) / 6
	// TokenLen is the width of every token produced by Encode.
	TokenLen = EncodedPayloadLen + 1 + SignatureHexLen

	separator = "."
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrEmptySecret  = errors.New("signing secret is empty")
)

// Signer issues and checks tokens with a process-wide secret. It holds no
// mutable state and is safe for concurrent use.
type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: append([]byte(nil), secret...)}, nil
}

// Sign returns the lowercase hex of the first 16 bytes of
// HMAC-SHA-256(secret, payload).
func (s *Signer) Sign(payload []byte) string {
	return hex.EncodeToString(s.mac(payload))
}

// Encode renders a token as <base64url(payload)>.<sig-hex>.
func (s *Signer) Encode(payload [PayloadLen]byte) string {
	var b strings.Builder
	b.Grow(TokenLen)
	b.WriteString(base64.RawURLEncoding.EncodeToString(payload[:]))
	b.WriteString(separator)
	b.WriteString(s.Sign(payload[:]))
	return b.String()
}

// Decode parses and authenticates a token. The payload is returned only when
// the signature matches; every failure wraps ErrTokenInvalid.
func (s *Signer) Decode(tok string) (Payload, error) {
	encoded, sig, ok := strings.Cut(tok, separator)
	if !ok {
		return Payload{}, invalid("missing separator")
	}
	if !isBase64URL(encoded) {
		return Payload{}, invalid("payload segment is not base64url")
	}
	if !isLowerHex(sig) || len(sig) != SignatureHexLen {
		return Payload{}, invalid("signature segment is not 32 lowercase hex characters")
	}

	raw, err := decodeBase64URL(encoded)
	if err != nil {
		return Payload{}, invalid("payload segment does not decode")
	}
	if len(raw) != PayloadLen {
		return Payload{}, invalid(fmt.Sprintf("payload decodes to %d bytes", len(raw)))
	}

	want := []byte(s.Sign(raw))
	if !hmac.Equal(want, []byte(sig)) {
		return Payload{}, invalid("signature mismatch")
	}

	p, err := Unpack(raw)
	if err != nil {
		return Payload{}, invalid(err.Error())
	}
	return p, nil
}

func (s *Signer) mac(payload []byte) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write(payload)
	return m.Sum(nil)[:SignatureLen]
}

// decodeBase64URL restores the standard alphabet and padding before decoding.
// Strict mode rejects non-zero trailing bits so that every payload has exactly
// one accepted text form.
func decodeBase64URL(s string) ([]byte, error) {
	std := strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if pad := (4 - len(std)%4) % 4; pad > 0 {
		std += strings.Repeat("=", pad)
	}
	return base64.StdEncoding.Strict().DecodeString(std)
}

func isBase64URL(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrTokenInvalid, reason)
}

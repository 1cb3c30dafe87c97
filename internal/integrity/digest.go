// Package integrity computes and checks the keyed digests that gate every
// mutating request. A digest is the lowercase hex SHA-256 of the request's
// fields, written as name=value in a fixed order, joined by "|" and followed
// by the shared secret.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

const separator = "|"

var (
	ErrMissingDigest  = errors.New("missing digest")
	ErrDigestMismatch = errors.New("digest mismatch")
	ErrEmptySecret    = errors.New("digest secret must not be empty")
)

// Field is one named value of a request, already rendered as text.
type Field struct {
	Name  string
	Value string
}

func String(name, value string) Field { return Field{Name: name, Value: value} }

func Int(name string, value int) Field { return Field{Name: name, Value: strconv.Itoa(value)} }

func Float(name string, value float64) Field {
	return Field{Name: name, Value: strconv.FormatFloat(value, 'f', -1, 64)}
}

// OptionalString renders nil as the empty string.
func OptionalString(name string, value *string) Field {
	if value == nil {
		return Field{Name: name}
	}
	return Field{Name: name, Value: *value}
}

// OptionalInt renders nil as the empty string.
func OptionalInt(name string, value *int) Field {
	if value == nil {
		return Field{Name: name}
	}
	return Int(name, *value)
}

// Map renders a free-form field map with its keys sorted, so the digest does
// not depend on the order the caller sent them in.
func Map(name string, value map[string]any) (Field, error) {
	canonical, err := CanonicalMap(value)
	if err != nil {
		return Field{}, err
	}
	return Field{Name: name, Value: canonical}, nil
}

// CanonicalMap serializes m as compact JSON with lexicographically sorted
// keys and without HTML escaping, matching JSON.stringify over sorted keys.
func CanonicalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Verifier holds the server-side secret. It is safe for concurrent use.
type Verifier struct {
	secret string
}

// NewVerifier returns a Verifier keyed with secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: secret}, nil
}

// Canonical returns the exact string that is hashed, secret included.
func (v *Verifier) Canonical(fields ...Field) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(f.Value)
		b.WriteString(separator)
	}
	b.WriteString(v.secret)
	return b.String()
}

// Digest computes the digest of fields in the given order.
func (v *Verifier) Digest(fields ...Field) string {
	sum := sha256.Sum256([]byte(v.Canonical(fields...)))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of fields and compares it with the one the
// request declared.
func (v *Verifier) Verify(digest string, fields ...Field) error {
	digest = strings.ToLower(strings.TrimSpace(digest))
	if digest == "" {
		return ErrMissingDigest
	}
	expected := v.Digest(fields...)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) != 1 {
		return ErrDigestMismatch
	}
	return nil
}

// Package mac signs and verifies values with HMAC-SHA256.
//
// Keys are 64 random bytes and travel as standard base64 strings.
//
//	key, _ := mac.GenerateKey()
//	sig := mac.Generate(key, "1234")
//	err := mac.Verify(key, sig, "1234")
package mac

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/juju/errors"
)

// KeySize is the key length in bytes.
const KeySize = 64

// ErrInvalid is returned for a MAC that does not match its values.
var ErrInvalid = errors.Forbiddenf("invalid MAC")

type Key []byte

// GenerateKey returns a new random key.
func GenerateKey() (Key, error) {
	key := make(Key, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to read random key: %w", err)
	}
	return key, nil
}

// KeyFromString decodes a base64 key.
func KeyFromString(s string) (Key, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.NotValidf("hmac key")
	}
	if len(key) == 0 {
		return nil, errors.NotValidf("empty hmac key")
	}
	return key, nil
}

func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k)
}

func calculate(key Key, values ...string) []byte {
	h := hmac.New(sha256.New, key)
	for _, v := range values {
		h.Write([]byte(v))
	}
	return h.Sum(nil)
}

// Generate returns the base64 MAC over the concatenated values.
func Generate(key Key, values ...string) string {
	return base64.StdEncoding.EncodeToString(calculate(key, values...))
}

// Verify compares mac against the values in constant time.
func Verify(key Key, mac string, values ...string) error {
	in, err := base64.StdEncoding.DecodeString(mac)
	if err != nil {
		return ErrInvalid
	}
	if !hmac.Equal(in, calculate(key, values...)) {
		return ErrInvalid
	}
	return nil
}

package mac

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	sig := Generate(key, "123456789")
	assert.NoError(t, Verify(key, sig, "123456789"))

	err = Verify(key, sig, "987654321")
	assert.True(t, errors.Is(err, errors.Forbidden))

	err = Verify(key, "not base64!", "123456789")
	assert.True(t, errors.Is(err, errors.Forbidden))
}

func TestKeyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	parsed, err := KeyFromString(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
	assert.Equal(t, Generate(key, "a", "b"), Generate(parsed, "ab"))
}

func TestKeyFromStringInvalid(t *testing.T) {
	_, err := KeyFromString("%%%")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = KeyFromString("")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestDifferentKeysDiffer(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	assert.Error(t, Verify(k2, Generate(k1, "1"), "1"))
}

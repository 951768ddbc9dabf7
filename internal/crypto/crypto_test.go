package crypto

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgon2KAT(t *testing.T) {
	t.Parallel()

	passphrase := []byte("correct horse battery staple")
	salt := []byte("0123456789abcdef0123456789abcdef")
	params := Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 1,
		SaltLen:     32,
		KeyLen:      32,
	}

	got, err := DeriveBackupKey(passphrase, salt, params)
	require.NoError(t, err)
	require.Equal(t, mustDecodeHex(t, "d12ac228e1566ecd9f80cf05621657ee1b5b34e40133438917d7ed334641f455"), got)
}

func TestXChaCha20Poly1305RoundTripAndTamper(t *testing.T) {
	t.Parallel()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	nonce, err := randomNonce(24)
	require.NoError(t, err)

	sealed, err := SealXChaCha20Poly1305(key, nonce, []byte("snapshot"), []byte("aad"))
	require.NoError(t, err)

	opened, err := OpenXChaCha20Poly1305(key, nonce, sealed, []byte("aad"))
	require.NoError(t, err)
	require.Equal(t, []byte("snapshot"), opened)

	_, err = OpenXChaCha20Poly1305(key, nonce, sealed, []byte("other"))
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = SealXChaCha20Poly1305(key[:16], nonce, []byte("x"), nil)
	require.ErrorIs(t, err, ErrInvalidAEADInput)
}

func TestArgon2RejectsUnsafeMemory(t *testing.T) {
	t.Parallel()

	params := DefaultArgon2Params()
	params.Memory = MinArgon2MemoryKiB - 1

	_, err := DeriveBackupKey([]byte("pass"), []byte("0123456789abcdef0123456789abcdef"), params)
	require.ErrorIs(t, err, ErrInvalidArgon2Params)
}

func TestArgon2RejectsZeroParallelism(t *testing.T) {
	t.Parallel()

	params := DefaultArgon2Params()
	params.Parallelism = 0

	_, err := DeriveBackupKey([]byte("pass"), []byte("0123456789abcdef0123456789abcdef"), params)
	require.ErrorIs(t, err, ErrInvalidArgon2Params)
}

func TestDeriveBackupKeyInputs(t *testing.T) {
	t.Parallel()

	salt := []byte("0123456789abcdef0123456789abcdef")
	params := testArgon2Params()

	_, err := DeriveBackupKey(nil, salt, params)
	require.ErrorIs(t, err, ErrPassphraseRequired)

	_, err = DeriveBackupKey([]byte("pass"), salt[:8], params)
	require.ErrorIs(t, err, ErrInvalidArgon2Params)

	params.KeyLen = 16
	_, err = DeriveBackupKey([]byte("pass"), salt, params)
	require.ErrorIs(t, err, ErrInvalidArgon2Params)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"version":"1.0.0"}`)
	sealed, err := SealEnvelope(payload, []byte("hunter2"), []byte("aad"), testArgon2Params())
	require.NoError(t, err)
	require.True(t, IsEnvelope(sealed))
	require.NotContains(t, string(sealed), "1.0.0")

	opened, err := OpenEnvelope(sealed, []byte("hunter2"), []byte("aad"))
	require.NoError(t, err)
	require.Equal(t, payload, opened)
}

func TestEnvelopeWrongPassphraseFails(t *testing.T) {
	t.Parallel()

	sealed, err := SealEnvelope([]byte("data"), []byte("right"), nil, testArgon2Params())
	require.NoError(t, err)

	_, err = OpenEnvelope(sealed, []byte("wrong"), nil)
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = OpenEnvelope(sealed, nil, nil)
	require.ErrorIs(t, err, ErrPassphraseRequired)
}

func TestEnvelopeRejectsHostileParams(t *testing.T) {
	t.Parallel()

	sealed, err := SealEnvelope([]byte("data"), []byte("pw"), nil, testArgon2Params())
	require.NoError(t, err)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(sealed, &envelope))
	envelope.Argon2Params.Memory = maxEnvelopeArgon2Memory + 1
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)

	_, err = OpenEnvelope(tampered, []byte("pw"), nil)
	require.ErrorIs(t, err, ErrInvalidArgon2Params)
}

func TestIsEnvelopeIgnoresPlainJSON(t *testing.T) {
	t.Parallel()

	require.False(t, IsEnvelope([]byte(`{"version":"1.0.0","assessments":[]}`)))
	require.False(t, IsEnvelope([]byte(`[]`)))
	require.False(t, IsEnvelope(nil))

	_, err := OpenEnvelope([]byte(`{"version":"1.0.0"}`), []byte("pw"), nil)
	require.ErrorIs(t, err, ErrNotEnvelope)
}

func testArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      MinArgon2MemoryKiB,
		Iterations:  1,
		Parallelism: 1,
		SaltLen:     16,
		KeyLen:      32,
	}
}

func mustDecodeHex(t *testing.T, value string) []byte {
	t.Helper()
	out, err := hex.DecodeString(value)
	require.NoError(t, err)
	return out
}

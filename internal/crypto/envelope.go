package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	EnvelopeFormat = "checkerq.envelope.v1"
	envelopeKDF    = "argon2id"

	// Bounds applied to argon2 parameters read from an untrusted envelope.
	maxEnvelopeArgon2Memory     = 1 << 20 // 1 GiB in KiB units
	maxEnvelopeArgon2Iterations = 20
	maxEnvelopeArgon2Threads    = 16
)

var (
	ErrNotEnvelope        = errors.New("not an encrypted envelope")
	ErrPassphraseRequired = errors.New("passphrase required")
)

// Envelope is the on-disk form of a passphrase-protected payload.
type Envelope struct {
	Format       string         `json:"format"`
	KDF          string         `json:"kdf"`
	Argon2Params envelopeParams `json:"argon2_params"`
	Salt         []byte         `json:"salt"`
	Nonce        []byte         `json:"nonce"`
	Ciphertext   []byte         `json:"ciphertext"`
}

type envelopeParams struct {
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
	SaltLen     int    `json:"salt_len"`
	KeyLen      uint32 `json:"key_len"`
}

// SealEnvelope encrypts plaintext under a key derived from passphrase and
// returns the JSON-encoded envelope. aad binds the ciphertext to its use.
func SealEnvelope(plaintext, passphrase, aad []byte, params Argon2Params) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, params.SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("seal envelope: generate salt: %w", err)
	}
	key, err := DeriveBackupKey(passphrase, salt, params)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: derive key: %w", err)
	}
	defer memguard.WipeBytes(key)

	nonce, err := randomNonce(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}
	ciphertext, err := SealXChaCha20Poly1305(key, nonce, plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}

	out, err := json.Marshal(Envelope{
		Format: EnvelopeFormat,
		KDF:    envelopeKDF,
		Argon2Params: envelopeParams{
			Memory:      params.Memory,
			Iterations:  params.Iterations,
			Parallelism: params.Parallelism,
			SaltLen:     params.SaltLen,
			KeyLen:      params.KeyLen,
		},
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("seal envelope: encode: %w", err)
	}
	return out, nil
}

// IsEnvelope reports whether raw decodes as an envelope of the supported
// format. Plain snapshots and arbitrary JSON report false.
func IsEnvelope(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	return probe.Format == EnvelopeFormat
}

func OpenEnvelope(raw, passphrase, aad []byte) ([]byte, error) {
	if !IsEnvelope(raw) {
		return nil, ErrNotEnvelope
	}
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("open envelope: decode: %w", err)
	}
	if envelope.KDF != "" && envelope.KDF != envelopeKDF {
		return nil, fmt.Errorf("open envelope: unsupported kdf %q", envelope.KDF)
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}

	params, err := clampEnvelopeParams(envelope.Argon2Params)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	key, err := DeriveBackupKey(passphrase, envelope.Salt, params)
	if err != nil {
		return nil, fmt.Errorf("open envelope: derive key: %w", err)
	}
	defer memguard.WipeBytes(key)

	plaintext, err := OpenXChaCha20Poly1305(key, envelope.Nonce, envelope.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}

func clampEnvelopeParams(p envelopeParams) (Argon2Params, error) {
	if p.Memory > maxEnvelopeArgon2Memory {
		return Argon2Params{}, fmt.Errorf("%w: memory %d KiB exceeds %d KiB", ErrInvalidArgon2Params, p.Memory, maxEnvelopeArgon2Memory)
	}
	if p.Iterations > maxEnvelopeArgon2Iterations {
		return Argon2Params{}, fmt.Errorf("%w: iterations %d exceeds %d", ErrInvalidArgon2Params, p.Iterations, maxEnvelopeArgon2Iterations)
	}

	out := Argon2Params{
		Memory:      p.Memory,
		Iterations:  p.Iterations,
		Parallelism: p.Parallelism,
		SaltLen:     p.SaltLen,
		KeyLen:      DefaultArgon2KeyLen,
	}
	if out.Memory < MinArgon2MemoryKiB {
		out.Memory = MinArgon2MemoryKiB
	}
	if out.Iterations < 1 {
		out.Iterations = 1
	}
	if out.Parallelism < 1 {
		out.Parallelism = 1
	}
	if out.Parallelism > maxEnvelopeArgon2Threads {
		out.Parallelism = maxEnvelopeArgon2Threads
	}
	if err := out.Validate(); err != nil {
		return Argon2Params{}, err
	}
	return out, nil
}

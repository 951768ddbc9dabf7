package crypto

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

// Defaults used when sealing a new backup. Opening a backup always uses
// the parameters recorded in its envelope.
const (
	DefaultArgon2MemoryKiB  uint32 = 64 * 1024
	DefaultArgon2Iterations uint32 = 3
	DefaultArgon2SaltLen           = 32
	DefaultArgon2KeyLen     uint32 = 32
	MinArgon2MemoryKiB      uint32 = 32 * 1024

	maxArgon2Parallelism = 4
	minArgon2SaltLen     = 16
)

var ErrInvalidArgon2Params = errors.New("invalid argon2 parameters")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      DefaultArgon2MemoryKiB,
		Iterations:  DefaultArgon2Iterations,
		Parallelism: uint8(min(max(runtime.NumCPU(), 1), maxArgon2Parallelism)),
		SaltLen:     DefaultArgon2SaltLen,
		KeyLen:      DefaultArgon2KeyLen,
	}
}

func (p Argon2Params) Validate() error {
	var problem string
	switch {
	case p.Memory < MinArgon2MemoryKiB:
		problem = fmt.Sprintf("memory %d KiB is below %d KiB", p.Memory, MinArgon2MemoryKiB)
	case p.Iterations == 0:
		problem = "iterations must be positive"
	case p.Parallelism == 0:
		problem = "parallelism must be positive"
	case p.SaltLen < minArgon2SaltLen:
		problem = fmt.Sprintf("salt length %d is below %d", p.SaltLen, minArgon2SaltLen)
	case p.KeyLen != DefaultArgon2KeyLen:
		problem = fmt.Sprintf("key length must be %d for XChaCha20-Poly1305", DefaultArgon2KeyLen)
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgon2Params, problem)
}

// DeriveBackupKey stretches a backup passphrase into an XChaCha20-Poly1305
// key with Argon2id. The caller wipes the returned key.
func DeriveBackupKey(passphrase, salt []byte, params Argon2Params) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	if len(salt) < params.SaltLen {
		return nil, fmt.Errorf("%w: salt is %d bytes, want %d", ErrInvalidArgon2Params, len(salt), params.SaltLen)
	}
	return argon2.IDKey(passphrase, salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen), nil
}

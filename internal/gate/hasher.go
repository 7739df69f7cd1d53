package gate

import (
	"fmt"

	"github.com/matthewhartstonge/argon2"
)

// CodeHasher hashes one-time codes so the plaintext is never stored.
type CodeHasher interface {
	Hash(code string) (string, error)
	Verify(hash, code string) (bool, error)
}

// Argon2Hasher hashes codes with argon2id.
type Argon2Hasher struct {
	config argon2.Config
}

// NewArgon2Hasher creates a hasher with the given memory (KiB) and time cost.
// Zero values keep the library defaults.
func NewArgon2Hasher(memoryKiB, timeCost int) *Argon2Hasher {
	cfg := argon2.DefaultConfig()
	if memoryKiB > 0 {
		cfg.MemoryCost = uint32(memoryKiB)
	}
	if timeCost > 0 {
		cfg.TimeCost = uint32(timeCost)
	}
	return &Argon2Hasher{config: cfg}
}

func (h *Argon2Hasher) Hash(code string) (string, error) {
	raw, err := h.config.Hash([]byte(code), nil)
	if err != nil {
		return "", fmt.Errorf("hashing code: %w", err)
	}
	return string(raw.Encode()), nil
}

func (h *Argon2Hasher) Verify(hash, code string) (bool, error) {
	raw, err := argon2.Decode([]byte(hash))
	if err != nil {
		return false, fmt.Errorf("decoding code hash: %w", err)
	}
	ok, err := raw.Verify([]byte(code))
	if err != nil {
		return false, fmt.Errorf("verifying code: %w", err)
	}
	return ok, nil
}

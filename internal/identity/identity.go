package identity

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/crypto/sha3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
)

// separator joins the two identifiers before hashing so ("AB","C") and ("A","BC") differ.
const separator = "\x1f"

// Key is the hex encoded HMAC-SHA3-256 of the normalized identifier pair.
type Key string

// Short returns a log and display safe prefix of the key.
func (k Key) Short() string {
	if len(k) <= 8 {
		return string(k)
	}
	return string(k[:8]) + "..."
}

func (k Key) String() string {
	return string(k)
}

// Claim is a claimed identity: the derived key plus the display safe parts.
type Claim struct {
	Key       Key
	Masked    string
	Secondary string
}

// Deriver computes identity keys with a deployment specific pepper.
type Deriver struct {
	pepper []byte
}

func NewDeriver(pepper string) *Deriver {
	return &Deriver{pepper: []byte(pepper)}
}

// Key derives the identity key for a primary/secondary identifier pair.
func (d *Deriver) Key(primary, secondary string) (Key, error) {
	p := Normalize(primary)
	s := Normalize(secondary)
	if p == "" {
		return "", apperrors.Validation("primary identifier is required")
	}
	if s == "" {
		return "", apperrors.Validation("secondary identifier is required")
	}

	mac := hmac.New(sha3.New256, d.pepper)
	mac.Write([]byte(p))
	mac.Write([]byte(separator))
	mac.Write([]byte(s))
	return Key(hex.EncodeToString(mac.Sum(nil))), nil
}

// Claim derives the key and the masked forms for an identifier pair.
func (d *Deriver) Claim(primary, secondary string) (Claim, error) {
	key, err := d.Key(primary, secondary)
	if err != nil {
		return Claim{}, err
	}
	return Claim{
		Key:       key,
		Masked:    Mask(Normalize(primary)),
		Secondary: Normalize(secondary),
	}, nil
}

// Normalize folds an identifier into its canonical form: NFKC, no combining
// marks, no whitespace, dashes or dots, upper case ("ab-12 34" -> "AB1234").
func Normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range folded {
		if unicode.IsSpace(r) || r == '-' || r == '.' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Mask keeps the last four characters and replaces the rest with '*'.
// Identifiers of four characters or fewer are masked completely.
func Mask(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

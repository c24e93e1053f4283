package pid

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Generator mints new long ids.
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func() (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate() (string, error) {
	return f()
}

// LongIDAlphabet is the digit set of generated long ids. Vowels, 0, 1 and
// look-alike letters are left out so ids never spell words or get misread.
const LongIDAlphabet = "bcdfghjkmnpqrstvwxyzBCDFGHJKLMNPQRSTVWXYZ3456789"

// LongIDLen is the length of a generated long id. 48^23 exceeds 2^128, so
// every UUID fits.
const LongIDLen = 23

// UUIDGenerator renders random UUIDs in base 48 over LongIDAlphabet.
type UUIDGenerator struct{}

// Generate returns a new 23-character long id.
func (UUIDGenerator) Generate() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating uuid: %w", err)
	}
	return EncodeUUID(u), nil
}

// EncodeUUID renders u as a fixed-width long id.
func EncodeUUID(u uuid.UUID) string {
	num := new(big.Int).SetBytes(u[:])
	base := big.NewInt(int64(len(LongIDAlphabet)))
	rem := new(big.Int)

	var digits []byte
	for num.Sign() > 0 {
		num.QuoRem(num, base, rem)
		digits = append(digits, LongIDAlphabet[rem.Int64()])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	s := string(digits)
	if len(s) < LongIDLen {
		s = strings.Repeat(LongIDAlphabet[:1], LongIDLen-len(s)) + s
	}
	return s
}

package scouts

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const uidDigits = 1_000_000

// NewUID returns PREFIX-YEAR-NNNNNN with six crypto-random digits.
func NewUID(prefix string, year int) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(uidDigits))
	if err != nil {
		return "", fmt.Errorf("generate uid: %w", err)
	}
	return fmt.Sprintf("%s-%d-%06d", strings.ToUpper(prefix), year, n.Int64()), nil
}

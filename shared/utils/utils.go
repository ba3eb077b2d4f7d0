package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

// AccountNumberLength is the length of the external-facing account number.
const AccountNumberLength = 10

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateSortableID returns prefix-ULID. IDs minted in the same process
// sort in creation order, even within one millisecond.
func GenerateSortableID(prefix string, t time.Time) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyMu.Unlock()
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// GenerateAccountNumber generates a random 10-digit account number.
func GenerateAccountNumber() string {
	var sb strings.Builder
	for i := 0; i < AccountNumberLength; i++ {
		num, _ := rand.Int(rand.Reader, big.NewInt(10))
		sb.WriteByte(byte('0' + num.Int64()))
	}
	return sb.String()
}

// ValidateAccountNumber validates the account number format.
func ValidateAccountNumber(accountNumber string) bool {
	return len(accountNumber) == AccountNumberLength && IsDigits(accountNumber)
}

// IsDigits reports whether s is non-empty and made only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// HashPin hashes a transaction PIN using bcrypt.
func HashPin(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPin checks if a PIN matches a hash.
func CheckPin(pin, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	return err == nil
}

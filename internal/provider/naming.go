package provider

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/yairfalse/stackforge/pkg/account"
)

// ResourceName returns "<slug>-<suffix>", the stable name used for
// identifiers that need not be globally unique.
func ResourceName(acc account.Account, suffix string) string {
	return account.Slug(acc.StartupName) + "-" + suffix
}

// UniqueName appends a random 8 character suffix, for names that must be
// unique across a provider (S3 buckets).
func UniqueName(acc account.Account, suffix string) string {
	return ResourceName(acc, suffix) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GeneratePassword returns a random password of n characters that satisfies
// RDS and Redshift rules (upper, lower and digit; no '/', '@', '"' or space).
func GeneratePassword(n int) (string, error) {
	if n < 8 {
		n = 8
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	for {
		b := make([]byte, n)
		for i := range b {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b[i] = passwordAlphabet[idx.Int64()]
		}
		if hasClasses(string(b)) {
			return string(b), nil
		}
	}
}

func hasClasses(s string) bool {
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return upper && lower && digit
}

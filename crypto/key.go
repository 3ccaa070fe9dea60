package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const keyDerivationRounds = 10000

// ErrNoKey means account credentials are missing and no key can be derived.
var ErrNoKey = errors.New("crypto: encryption key unavailable")

// DeriveKey stretches the account id and server-issued pass hash into an AES-256 key.
func DeriveKey(accountID, passHash, salt string) ([]byte, error) {
	accountID = strings.TrimSpace(accountID)
	passHash = strings.TrimSpace(passHash)
	if accountID == "" || passHash == "" || salt == "" {
		return nil, ErrNoKey
	}

	secret := accountID + ":" + passHash + "\n"
	return pbkdf2.Key([]byte(secret), []byte(salt), keyDerivationRounds, aes256KeySize, sha256.New), nil
}

// KeyFingerprint returns the truncated SHA-256 hex fingerprint of a derived key.
func KeyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}
	return b.String()
}

package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// fieldSeparator joins the base64 nonce and ciphertext of one encrypted field.
const fieldSeparator = "-:-"

// ErrDecrypt reports a field or blob that could not be decrypted with the session key.
var ErrDecrypt = errors.New("crypto: unable to decrypt")

// Codec encrypts individual record fields and media blobs under one derived key.
// Every field is sealed independently; there is no record-level authentication.
type Codec struct {
	key         []byte
	fingerprint string
}

// NewCodec wraps a derived 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != aes256KeySize {
		return nil, fmt.Errorf("invalid key length: got %d want %d", len(key), aes256KeySize)
	}
	owned := append([]byte(nil), key...)
	return &Codec{key: owned, fingerprint: KeyFingerprint(owned)}, nil
}

// NewCodecFromCredentials derives the key and builds a codec in one step.
func NewCodecFromCredentials(accountID, passHash, salt string) (*Codec, error) {
	key, err := DeriveKey(accountID, passHash, salt)
	if err != nil {
		return nil, err
	}
	return NewCodec(key)
}

// Fingerprint identifies the key without revealing it.
func (c *Codec) Fingerprint() string {
	return c.fingerprint
}

// Encrypt is null-safe: nil in, nil out.
func (c *Codec) Encrypt(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	out, err := c.EncryptString(*plaintext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Decrypt is null-safe: nil in, nil out.
func (c *Codec) Decrypt(ciphertext *string) (*string, error) {
	if ciphertext == nil {
		return nil, nil
	}
	out, err := c.DecryptString(*ciphertext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EncryptString seals one field into "base64(nonce)-:-base64(ciphertext)".
func (c *Codec) EncryptString(plaintext string) (string, error) {
	ciphertext, nonce, err := Seal(c.key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(nonce) + fieldSeparator + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString reverses EncryptString.
func (c *Codec) DecryptString(ciphertext string) (string, error) {
	nonceText, sealedText, ok := strings.Cut(ciphertext, fieldSeparator)
	if !ok {
		return "", fmt.Errorf("%w: missing field separator", ErrDecrypt)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceText)
	if err != nil {
		return "", fmt.Errorf("%w: decode nonce: %v", ErrDecrypt, err)
	}
	sealed, err := base64.StdEncoding.DecodeString(sealedText)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrDecrypt, err)
	}

	plaintext, err := Open(c.key, nonce, sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// EncryptBlob seals raw media bytes as nonce||ciphertext.
func (c *Codec) EncryptBlob(data []byte) ([]byte, error) {
	ciphertext, nonce, err := Seal(c.key, data)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// DecryptBlob reverses EncryptBlob.
func (c *Codec) DecryptBlob(blob []byte) ([]byte, error) {
	aead, err := newAEAD(c.key)
	if err != nil {
		return nil, err
	}
	if len(blob) <= aead.NonceSize() {
		return nil, fmt.Errorf("%w: blob too short", ErrDecrypt)
	}
	plaintext, err := Open(c.key, blob[:aead.NonceSize()], blob[aead.NonceSize():])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

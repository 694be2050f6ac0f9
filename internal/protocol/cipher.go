package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip04"
)

// ErrCipher is wrapped by every decryption failure so callers can branch on
// "could not decrypt" without inspecting cause strings.
var ErrCipher = errors.New("decryption failed")

// EncryptDirect encrypts text for a peer using the NIP-04 shared secret.
func EncryptDirect(secretKey, peerPubKey, text string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubKey, secretKey)
	if err != nil {
		return "", fmt.Errorf("shared secret: %w", err)
	}
	out, err := nip04.Encrypt(text, shared)
	if err != nil {
		return "", fmt.Errorf("nip04 encrypt: %w", err)
	}
	return out, nil
}

// DecryptDirect decrypts a NIP-04 payload from (or to) the given peer.
func DecryptDirect(secretKey, peerPubKey, content string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubKey, secretKey)
	if err != nil {
		return "", fmt.Errorf("%w: shared secret: %v", ErrCipher, err)
	}
	plain, err := nip04.Decrypt(content, shared)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCipher, err)
	}
	return plain, nil
}

// Group payloads are AES-256-GCM: the nonce and the sealed ciphertext are
// base64-encoded separately and joined with "?".
const groupSegmentDelimiter = "?"

// EncryptGroup seals text with the group's base64 symmetric key.
func EncryptGroup(text, base64Key string) (string, error) {
	aead, err := groupAEAD(base64Key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(nonce) +
		groupSegmentDelimiter +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptGroup opens a group payload produced by EncryptGroup.
func DecryptGroup(content, base64Key string) (string, error) {
	nonceB64, sealedB64, found := strings.Cut(content, groupSegmentDelimiter)
	if !found {
		return "", fmt.Errorf("%w: malformed group payload", ErrCipher)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding", ErrCipher)
	}
	sealed, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrCipher)
	}
	aead, err := groupAEAD(base64Key)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("%w: bad nonce length", ErrCipher)
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCipher, err)
	}
	return string(plain), nil
}

// GenerateGroupKey creates a new random 32-byte group key, base64 encoded.
func GenerateGroupKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("group key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func groupAEAD(base64Key string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key encoding", ErrCipher)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}
	return aead, nil
}

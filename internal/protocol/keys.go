// Package protocol wraps the external protocol capability set consumed by the
// sync engine: key handling, event signing and verification, the direct and
// group message ciphers, and the relay pool. The engine never touches
// cryptography or the relay wire protocol outside this package.
package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// GenerateSecretKey creates a fresh hex-encoded secret key.
func GenerateSecretKey() string {
	return nostr.GeneratePrivateKey()
}

// DerivePublicKey returns the hex public key for a hex secret key.
func DerivePublicKey(secretKey string) (string, error) {
	pk, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return "", fmt.Errorf("derive public key: %w", err)
	}
	return pk, nil
}

// EncodeNpub renders a public key in bech32 npub form for display.
func EncodeNpub(pubKey string) (string, error) {
	return nip19.EncodePublicKey(pubKey)
}

// DecodeSecretKey accepts either a raw hex secret key or a bech32 nsec and
// returns the hex form. Used when importing an identity.
func DecodeSecretKey(raw string) (string, error) {
	if len(raw) > 4 && raw[:4] == "nsec" {
		prefix, val, err := nip19.Decode(raw)
		if err != nil {
			return "", fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("expected nsec, got %s", prefix)
		}
		return val.(string), nil
	}
	// Round-trip through key derivation to validate hex material.
	if _, err := nostr.GetPublicKey(raw); err != nil {
		return "", fmt.Errorf("invalid secret key: %w", err)
	}
	return raw, nil
}

// DecodePublicKey accepts either a raw hex public key or a bech32 npub and
// returns the hex form. Used when addressing a new direct conversation.
func DecodePublicKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "npub") {
		prefix, val, err := nip19.Decode(raw)
		if err != nil {
			return "", fmt.Errorf("decode npub: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("expected npub, got %s", prefix)
		}
		return val.(string), nil
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != 32 {
		return "", fmt.Errorf("invalid public key %q", raw)
	}
	return strings.ToLower(raw), nil
}

// Verify checks the event id and Schnorr signature.
func Verify(ev *nostr.Event) bool {
	ok, err := ev.CheckSignature()
	return err == nil && ok
}

// Finalize signs the template in place with the given secret key, filling in
// the author public key, event id, and signature.
func Finalize(ev *nostr.Event, secretKey string) error {
	if err := ev.Sign(secretKey); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return nil
}

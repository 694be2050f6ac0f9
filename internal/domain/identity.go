package domain

import "errors"

// ErrCorruptedIdentity marks persisted identity material that could not be
// decoded or fails basic shape checks. Loading treats it as a signal to wipe
// the identity slice and start over rather than crash.
var ErrCorruptedIdentity = errors.New("corrupted identity material")

// Identity is the local user: secret key material, the derived public key,
// and an optional cached copy of the user's own profile. The secret key is
// opaque to this layer beyond its hex length; all cryptographic use goes
// through the protocol package.
type Identity struct {
	SecretKey string   `json:"secret_key"`
	PubKey    string   `json:"pubkey"`
	Profile   *Profile `json:"profile,omitempty"`
}

// secp256k1 keys serialize to 64 hex characters.
const keyHexLen = 64

// Valid reports whether the identity has plausibly-shaped key material.
func (id *Identity) Valid() bool {
	return id != nil && len(id.SecretKey) == keyHexLen && len(id.PubKey) == keyHexLen
}

// DisplayName returns the cached profile name, falling back to a shortened
// public key when no profile is known.
func (id *Identity) DisplayName() string {
	if id == nil {
		return ""
	}
	if id.Profile != nil && id.Profile.Name != "" {
		return id.Profile.Name
	}
	return ShortPubKey(id.PubKey)
}

// ShortPubKey truncates a public key to 8 characters for display and logs.
func ShortPubKey(pk string) string {
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}

package domain

// Profile is the cached metadata for a public key (kind-0 content). Profiles
// converge under last-write-wins: an incoming profile is applied only when its
// UpdatedAt is strictly newer than the stored one.
type Profile struct {
	PubKey    string `json:"pubkey"`
	Name      string `json:"name"`
	Picture   string `json:"picture,omitempty"`
	NIP05     string `json:"nip05,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// Supersedes reports whether p should replace existing under last-write-wins.
// A nil existing profile is always superseded.
func (p *Profile) Supersedes(existing *Profile) bool {
	return existing == nil || p.UpdatedAt > existing.UpdatedAt
}

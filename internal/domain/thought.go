// Package domain defines the core data model of the sync engine: thoughts
// (conversations), messages, profiles, the local identity, and the persisted
// key-value rows. Thought and its companions are plain JSON-serializable
// values held by the state store; only Entry and PublishRecord are mapped
// with GORM.
package domain

import "errors"

// ThoughtType discriminates the conversation variants. A Thought is a tagged
// variant: exactly the fields belonging to its type are meaningful.
type ThoughtType string

const (
	// ThoughtPublic is the single global public feed (kind-1 notes).
	ThoughtPublic ThoughtType = "public"
	// ThoughtDirect is an encrypted one-to-one conversation (kind-4).
	ThoughtDirect ThoughtType = "direct"
	// ThoughtGroup is a symmetric-key group conversation (kind-41).
	ThoughtGroup ThoughtType = "group"
	// ThoughtNote is a local free-text note; it never touches the network.
	ThoughtNote ThoughtType = "note"
)

// PublicThoughtID is the fixed id of the always-present public feed.
const PublicThoughtID = "public"

// Thought is a local conversation entity. The common fields apply to every
// variant; PeerPubKey is set only for direct, GroupKey only for group, and
// Body only for note thoughts.
//
// LastActivity is monotonic: it only ever moves forward, via Touch.
type Thought struct {
	ID           string      `json:"id"`
	Type         ThoughtType `json:"type"`
	Name         string      `json:"name"`
	LastActivity int64       `json:"last_activity"`
	Unread       int         `json:"unread"`

	// PeerPubKey is the hex public key of the remote party (direct only).
	PeerPubKey string `json:"peer_pubkey,omitempty"`
	// GroupKey is the base64 symmetric key shared by the group (group only).
	GroupKey string `json:"group_key,omitempty"`
	// Body is the note text (note only).
	Body string `json:"body,omitempty"`
}

// Validation errors for thought variants.
var (
	ErrMissingPeer     = errors.New("direct thought requires a peer public key")
	ErrMissingGroupKey = errors.New("group thought requires key material")
	ErrUnknownType     = errors.New("unknown thought type")
)

// NewPublicThought returns the canonical public feed entity.
func NewPublicThought() *Thought {
	return &Thought{ID: PublicThoughtID, Type: ThoughtPublic, Name: "Public"}
}

// NewDirectThought creates a direct-message thought for the given peer.
// The peer public key doubles as the thought id so that implicit creation on
// first contact and explicit creation by the user converge on the same entity.
func NewDirectThought(peerPubKey, name string) *Thought {
	return &Thought{
		ID:         peerPubKey,
		Type:       ThoughtDirect,
		Name:       name,
		PeerPubKey: peerPubKey,
	}
}

// NewGroupThought creates a group thought carrying its symmetric key.
func NewGroupThought(id, name, groupKey string) *Thought {
	return &Thought{ID: id, Type: ThoughtGroup, Name: name, GroupKey: groupKey}
}

// NewNoteThought creates a local note. Notes have no network traffic.
func NewNoteThought(id, name, body string) *Thought {
	return &Thought{ID: id, Type: ThoughtNote, Name: name, Body: body}
}

// Validate checks the variant invariants.
func (t *Thought) Validate() error {
	switch t.Type {
	case ThoughtPublic, ThoughtNote:
		return nil
	case ThoughtDirect:
		if t.PeerPubKey == "" {
			return ErrMissingPeer
		}
		return nil
	case ThoughtGroup:
		if t.GroupKey == "" {
			return ErrMissingGroupKey
		}
		return nil
	default:
		return ErrUnknownType
	}
}

// Touch advances LastActivity to ts if ts is newer. It never moves backwards,
// so unordered delivery cannot regress the conversation ordering.
func (t *Thought) Touch(ts int64) {
	if ts > t.LastActivity {
		t.LastActivity = ts
	}
}

// HasKeyMaterial reports whether the thought carries everything needed to
// decrypt its traffic. Public and note thoughts carry plaintext by nature.
func (t *Thought) HasKeyMaterial() bool {
	switch t.Type {
	case ThoughtDirect:
		return t.PeerPubKey != ""
	case ThoughtGroup:
		return t.GroupKey != ""
	default:
		return true
	}
}

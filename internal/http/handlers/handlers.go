// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the Handlers aggregate and the wire-level DTOs shared by
// the endpoint files. Handlers never expose secret key material: identity
// responses carry only the public key (hex and npub) plus the cached profile,
// and the state snapshot is redacted the same way.
package handlers

import (
	"time"

	"gorm.io/gorm"

	"github.com/thoughtsync/thoughtsync/internal/client"
	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/protocol"
	"github.com/thoughtsync/thoughtsync/internal/store"
	"github.com/thoughtsync/thoughtsync/internal/utils"
)

// Handlers aggregates the dependencies required by HTTP endpoints.
type Handlers struct {
	Client  *client.Client
	DB      *gorm.DB
	IdemTTL time.Duration
}

// New constructs the Handlers aggregate used during route registration.
func New(c *client.Client, idemTTL time.Duration) *Handlers {
	return &Handlers{Client: c, DB: c.DB(), IdemTTL: idemTTL}
}

// IdentityResponse is the redacted identity DTO. The secret key never leaves
// the engine.
type IdentityResponse struct {
	PubKey      string          `json:"pubkey"`
	Npub        string          `json:"npub,omitempty"`
	DisplayName string          `json:"display_name"`
	Profile     *domain.Profile `json:"profile,omitempty"`
}

func identityResponse(id *domain.Identity) *IdentityResponse {
	if id == nil {
		return nil
	}
	npub, err := protocol.EncodeNpub(id.PubKey)
	if err != nil {
		npub = ""
	}
	return &IdentityResponse{
		PubKey:      id.PubKey,
		Npub:        npub,
		DisplayName: id.DisplayName(),
		Profile:     id.Profile,
	}
}

// ThoughtResponse is the wire form of a thought. GroupKey is included for
// group thoughts so the owner can share it out of band; it is the local
// user's own material, not a remote secret.
type ThoughtResponse struct {
	ID           string             `json:"id"`
	Type         domain.ThoughtType `json:"type"`
	Name         string             `json:"name"`
	LastActivity int64              `json:"last_activity"`
	Unread       int                `json:"unread"`
	PeerPubKey   string             `json:"peer_pubkey,omitempty"`
	GroupKey     string             `json:"group_key,omitempty"`
	Body         string             `json:"body,omitempty"`
}

func thoughtResponse(t *domain.Thought) ThoughtResponse {
	return ThoughtResponse{
		ID:           t.ID,
		Type:         t.Type,
		Name:         t.Name,
		LastActivity: t.LastActivity,
		Unread:       t.Unread,
		PeerPubKey:   t.PeerPubKey,
		GroupKey:     t.GroupKey,
		Body:         t.Body,
	}
}

// StateResponse is the redacted state snapshot. Message windows are excluded;
// clients page them per thought.
type StateResponse struct {
	Identity        *IdentityResponse          `json:"identity"`
	Thoughts        []ThoughtResponse          `json:"thoughts"`
	ActiveThoughtID string                     `json:"active_thought_id"`
	Profiles        map[string]*domain.Profile `json:"profiles"`
	Relays          []string                   `json:"relays"`
	Status          store.ConnStatus           `json:"status"`
	RelayCount      int                        `json:"relay_count"`
}

// Pagination describes a page of results in list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// clampPagination parses and bounds the page/per_page query parameters.
func clampPagination(pageStr, perStr string) (page, per int) {
	page = utils.AtoiDefault(pageStr, 1)
	if page < 1 {
		page = 1
	}
	per = utils.AtoiDefault(perStr, defaultPerPage)
	if per < 1 {
		per = defaultPerPage
	}
	if per > maxPerPage {
		per = maxPerPage
	}
	return page, per
}

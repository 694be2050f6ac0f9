package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thoughtsync/thoughtsync/internal/client"
	"github.com/thoughtsync/thoughtsync/internal/domain"
	"github.com/thoughtsync/thoughtsync/internal/gateway"
	"github.com/thoughtsync/thoughtsync/internal/store"
)

// GetIdentity returns the redacted identity, or 404 when no identity has
// been installed yet.
func (h *Handlers) GetIdentity(c *gin.Context) {
	var id *domain.Identity
	h.Client.Store.View(func(st *store.State) { id = st.Identity })
	if id == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no identity installed")
		return
	}
	ok(c, http.StatusOK, identityResponse(id))
}

// putIdentityRequest carries an optional secret key for import. An empty (or
// absent) key means "generate a fresh one".
type putIdentityRequest struct {
	SecretKey string `json:"secret_key"`
}

// PutIdentity installs an identity: imports the supplied secret key (hex or
// nsec) or generates a new keypair when none is given. An existing identity
// is replaced.
func (h *Handlers) PutIdentity(c *gin.Context) {
	var req putIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	var (
		id  *domain.Identity
		err error
	)
	if req.SecretKey == "" {
		id, err = h.Client.GenerateIdentity(ctx)
	} else {
		id, err = h.Client.ImportIdentity(ctx, req.SecretKey)
	}
	if err != nil {
		switch {
		case errors.Is(err, client.ErrInvalidKey):
			fail(c, http.StatusBadRequest, ErrCodeImportFailed, "secret key could not be decoded")
		case errors.Is(err, store.ErrPersistence):
			fail(c, http.StatusInternalServerError, ErrCodePersistFailed, "identity could not be persisted")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "identity install failed")
		}
		return
	}
	ok(c, http.StatusOK, identityResponse(id))
}

// putProfileRequest is the profile publish payload.
type putProfileRequest struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
	NIP05   string `json:"nip05"`
}

// PutProfile signs and publishes the user's profile metadata and applies it
// locally on success.
func (h *Handlers) PutProfile(c *gin.Context) {
	var req putProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	prof, err := h.Client.PublishProfile(c.Request.Context(), req.Name, req.Picture, req.NIP05)
	if err != nil {
		failPublish(c, err)
		return
	}
	ok(c, http.StatusOK, prof)
}

// GetOwnProfile returns the cached profile of the installed identity.
func (h *Handlers) GetOwnProfile(c *gin.Context) {
	var (
		id   *domain.Identity
		prof *domain.Profile
	)
	h.Client.Store.View(func(st *store.State) {
		id = st.Identity
		if id != nil {
			prof = st.Profiles[id.PubKey]
		}
	})
	if id == nil {
		fail(c, http.StatusConflict, ErrCodeNoIdentity, "no identity installed")
		return
	}
	if prof == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no profile published yet")
		return
	}
	ok(c, http.StatusOK, prof)
}

// GetProfile returns the cached profile for a public key. Unknown keys get a
// 404 and a best-effort background fetch so a retry may succeed.
func (h *Handlers) GetProfile(c *gin.Context) {
	pubkey := c.Param("pubkey")

	var prof *domain.Profile
	h.Client.Store.View(func(st *store.State) { prof = st.Profiles[pubkey] })
	if prof == nil {
		h.Client.Gateway.FetchProfile(pubkey)
		fail(c, http.StatusNotFound, ErrCodeNotFound, "profile not cached; fetch requested")
		return
	}
	ok(c, http.StatusOK, prof)
}

// failPublish maps engine publish errors onto the HTTP error taxonomy.
func failPublish(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrNoIdentity):
		fail(c, http.StatusConflict, ErrCodeNoIdentity, "no identity installed")
	case errors.Is(err, gateway.ErrNoRelays):
		fail(c, http.StatusServiceUnavailable, ErrCodeNoRelays, "relay set is empty")
	case errors.Is(err, gateway.ErrAllRelaysRejected):
		fail(c, http.StatusBadGateway, ErrCodeSendFailed, "every relay rejected the event")
	case errors.Is(err, gateway.ErrTransport):
		fail(c, http.StatusBadGateway, ErrCodeSendFailed, "publish failed")
	case errors.Is(err, store.ErrPersistence):
		fail(c, http.StatusInternalServerError, ErrCodePersistFailed, "published but could not persist locally")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "publish failed")
	}
}

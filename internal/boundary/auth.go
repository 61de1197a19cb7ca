package boundary

import (
	"net/http"
	"strings"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/config"
)

// Credential is the authenticated caller's resolved identity for one
// request.
type Credential struct {
	Key      string
	IsAdmin  bool
	Present  bool
}

// AuthPolicy implements spec.md §4.7's two-channel credential check and
// the permission-mode gate on writes. Grounded on the teacher's
// HTTPServer.authenticate (single Authorization-header Bearer check),
// widened to also accept X-API-Key and to distinguish the admin key.
type AuthPolicy struct {
	Mode     config.PermissionsMode
	APIKey   string
	AdminKey string
}

func NewAuthPolicy(cfg *config.Config) *AuthPolicy {
	return &AuthPolicy{Mode: cfg.PermissionsMode, APIKey: cfg.RestAPIKey, AdminKey: cfg.AdminKey}
}

// Resolve extracts the caller's credential from either supported channel.
func (p *AuthPolicy) Resolve(r *http.Request) Credential {
	key := bearerToken(r)
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		return Credential{}
	}
	return Credential{Key: key, Present: true, IsAdmin: p.AdminKey != "" && key == p.AdminKey}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

// AuthorizeRead allows any request through in every mode except strict,
// which requires a recognized credential for all access.
func (p *AuthPolicy) AuthorizeRead(c Credential) error {
	if p.Mode != config.ModeStrict {
		return nil
	}
	if !c.Present || !p.validKey(c) {
		return apperr.New(apperr.CodeUnauthorized, "a valid credential is required")
	}
	return nil
}

// AuthorizeWrite requires a valid credential in standard/strict mode.
func (p *AuthPolicy) AuthorizeWrite(c Credential) error {
	if p.Mode == config.ModePermissive {
		return nil
	}
	if !c.Present || !p.validKey(c) {
		return apperr.New(apperr.CodeUnauthorized, "a valid credential is required for write operations")
	}
	return nil
}

// AuthorizeAdmin guards project creation and other destructive actions;
// the admin key is required regardless of permission mode once one is
// configured.
func (p *AuthPolicy) AuthorizeAdmin(c Credential) error {
	if p.AdminKey == "" {
		// No admin key configured: fall back to the standard write gate.
		return p.AuthorizeWrite(c)
	}
	if !c.IsAdmin {
		return apperr.PermissionDenied("this action requires the admin credential")
	}
	return nil
}

func (p *AuthPolicy) validKey(c Credential) bool {
	if c.IsAdmin {
		return true
	}
	return p.APIKey != "" && c.Key == p.APIKey
}

package auth

import (
	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/user"
)

// Authorizer grants access by role.
type Authorizer struct {
	logger core.Logger
}

func NewAuthorizer(logger core.Logger) *Authorizer {
	return &Authorizer{logger: logger}
}

// Authorize allows p if it holds any of roles; no roles allows any authenticated principal.
// Denials are logged with the principal and the path.
func (a *Authorizer) Authorize(p *Principal, path string, roles ...user.Role) error {
	if p == nil {
		return ErrAuthRequired
	}
	if len(roles) == 0 || p.HasRole(roles...) {
		return nil
	}

	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		allowed = append(allowed, string(role))
	}
	a.logger.Warn("access denied", map[string]interface{}{
		"user_id": p.ID,
		"role":    string(p.Role),
		"path":    path,
		"allowed": allowed,
	})
	return ErrForbidden
}

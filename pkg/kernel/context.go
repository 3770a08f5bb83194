package kernel

// AuthContext is the authenticated identity injected into each request.
type AuthContext struct {
	UserID   *UserID  `json:"user_id"`
	TenantID TenantID `json:"tenant_id"`
	Email    string   `json:"email"`
	Scopes   []string `json:"scopes"`
}

// IsValid reports whether the context identifies a tenant and a user.
func (ac *AuthContext) IsValid() bool {
	return ac.UserID != nil && !ac.UserID.IsEmpty() && !ac.TenantID.IsEmpty()
}

// HasScope reports whether the context carries scope, honoring "*" and
// prefix wildcards such as "webhooks:*".
func (ac *AuthContext) HasScope(scope string) bool {
	for _, s := range ac.Scopes {
		if s == scope || s == "*" {
			return true
		}
		if len(s) > 2 && s[len(s)-2:] == ":*" {
			prefix := s[:len(s)-2]
			if len(scope) > len(prefix) && scope[:len(prefix)] == prefix && scope[len(prefix)] == ':' {
				return true
			}
		}
	}
	return false
}

// ContextKey is the type used for values stored in context.Context.
type ContextKey string

const (
	// AuthContextKey stores the *AuthContext of the request.
	AuthContextKey ContextKey = "auth_context"

	// RequestIDKey stores the request id.
	RequestIDKey ContextKey = "request_id"
)

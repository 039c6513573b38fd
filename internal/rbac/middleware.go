package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pricebook/pricebook/internal/platform/httpx"
)

// IdentityResolver turns the identity provider's uid/email into a principal.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, uid, email string) (Principal, error)
}

// Default header names set by the identity-aware proxy in front of the API.
const (
	DefaultUIDHeader   = "X-Auth-Uid"
	DefaultEmailHeader = "X-Auth-Email"
)

// Middleware wires identity and capability checks for HTTP handlers.
type Middleware struct {
	Identity    IdentityResolver
	Logger      *slog.Logger
	UIDHeader   string
	EmailHeader string
}

// Authenticate resolves the caller's principal and stores it in the request context.
// Requests without a uid are rejected before reaching any handler.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(m.uidHeader()))
		if uid == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
			return
		}
		email := strings.TrimSpace(r.Header.Get(m.emailHeader()))
		principal, err := m.Identity.ResolveIdentity(r.Context(), uid, email)
		if err != nil {
			// Profile lookups degrade to the most restricted known role.
			if m.Logger != nil {
				m.Logger.Warn("rbac resolve identity", slog.String("uid", uid), slog.Any("error", err))
			}
			principal = NewPrincipal(uid, email, RoleViewer)
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireAny ensures the current principal holds at least one of the capabilities.
func (m Middleware) RequireAny(caps ...Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(caps) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
				return
			}
			for _, c := range caps {
				if principal.Can(c) {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.deny(w, r, principal, caps)
		})
	}
}

// RequireAll ensures the current principal holds every capability.
func (m Middleware) RequireAll(caps ...Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing identity")
				return
			}
			for _, c := range caps {
				if !principal.Can(c) {
					m.deny(w, r, principal, caps)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, p Principal, caps []Capability) {
	if m.Logger != nil {
		names := make([]string, 0, len(caps))
		for _, c := range caps {
			names = append(names, string(c))
		}
		m.Logger.Info("rbac denied",
			slog.String("uid", p.UID),
			slog.String("role", string(p.Role)),
			slog.String("path", r.URL.Path),
			slog.String("required", strings.Join(names, ",")))
	}
	httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
}

func (m Middleware) uidHeader() string {
	if m.UIDHeader != "" {
		return m.UIDHeader
	}
	return DefaultUIDHeader
}

func (m Middleware) emailHeader() string {
	if m.EmailHeader != "" {
		return m.EmailHeader
	}
	return DefaultEmailHeader
}

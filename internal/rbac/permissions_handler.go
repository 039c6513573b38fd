package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pricebook/pricebook/internal/platform/httpx"
)

// PermissionsHandler exposes role resolution to callers rendering navigation.
type PermissionsHandler struct {
	logger *slog.Logger
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger) *PermissionsHandler {
	return &PermissionsHandler{logger: logger}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.resolvePermissions)
	r.Get("/roles", h.listRoles)
}

type roleMatrixRow struct {
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
}

func (h *PermissionsHandler) resolvePermissions(w http.ResponseWriter, r *http.Request) {
	role := Role(strings.TrimSpace(r.URL.Query().Get("role")))
	if role == "" {
		if p, ok := PrincipalFromContext(r.Context()); ok {
			role = p.Role
		}
	}
	httpx.JSON(w, http.StatusOK, roleMatrixRow{Role: role, Permissions: Resolve(role)})
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := Roles()
	rows := make([]roleMatrixRow, 0, len(roles))
	for _, role := range roles {
		rows = append(rows, roleMatrixRow{Role: role, Permissions: Resolve(role)})
	}
	httpx.JSON(w, http.StatusOK, rows)
}

package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pricebook/pricebook/internal/platform/httpx"
	"github.com/pricebook/pricebook/internal/rbac"
)

// Handler manages user directory endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountMeRoutes registers the caller profile route.
func (h *Handler) MountMeRoutes(r chi.Router) {
	r.Get("/", h.me)
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(rbac.CapManageUsers))
	r.Get("/", h.listUsers)
	r.Post("/", h.createUser)
	r.Patch("/{uid}/role", h.updateRole)
}

type meResponse struct {
	Profile     Profile          `json:"profile"`
	Permissions rbac.Permissions `json:"permissions"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	profile, err := h.service.Me(r.Context(), p)
	if err != nil {
		h.logger.Error("load profile failed", slog.String("uid", p.UID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{Profile: profile, Permissions: p.Permissions})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	profiles, err := h.service.List(r.Context(), p)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if profiles == nil {
		profiles = []Profile{}
	}
	httpx.JSON(w, http.StatusOK, profiles)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	profile, err := h.service.Create(r.Context(), p, in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, profile)
}

type roleForm struct {
	Role string `json:"role"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var form roleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	uid := chi.URLParam(r, "uid")
	if err := h.service.UpdateRole(r.Context(), p, uid, rbac.Role(strings.TrimSpace(form.Role))); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var fieldErrs FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		httpx.FieldProblem(w, "profile failed validation", fieldErrs)
	case errors.Is(err, rbac.ErrForbidden):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
	case errors.Is(err, ErrExists):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "user already exists")
	default:
		h.logger.Error("user request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

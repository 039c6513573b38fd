package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pricebook/pricebook/internal/rbac"
)

var adminActor = rbac.NewPrincipal("admin-1", "admin@example.com", rbac.RoleAdmin)

func TestResolveIdentity(t *testing.T) {
	repo := NewMemoryRepository(Profile{UID: "pm-1", Email: "pm@example.com", Role: rbac.RolePricingManager})
	svc := NewService(repo)
	ctx := context.Background()

	p, err := svc.ResolveIdentity(ctx, "pm-1", "other@example.com")
	require.NoError(t, err)
	require.Equal(t, rbac.RolePricingManager, p.Role)
	require.Equal(t, "pm@example.com", p.Email)
	require.True(t, p.Permissions.UploadCSV)

	p, err = svc.ResolveIdentity(ctx, "new-user", "new@example.com")
	require.NoError(t, err)
	require.Equal(t, rbac.RoleViewer, p.Role)
	require.Equal(t, "new@example.com", p.Email)
	require.False(t, p.Permissions.UploadCSV)
}

type brokenRepo struct{ RepositoryPort }

func (brokenRepo) GetByUID(ctx context.Context, uid string) (Profile, error) {
	return Profile{}, errors.New("db down")
}

func TestResolveIdentityPropagatesStoreErrors(t *testing.T) {
	_, err := NewService(brokenRepo{}).ResolveIdentity(context.Background(), "u", "e")
	require.Error(t, err)
}

func TestCreateValidatesAndGuards(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	_, err := svc.Create(ctx, rbac.NewPrincipal("v", "", rbac.RoleViewer), CreateInput{})
	require.ErrorIs(t, err, rbac.ErrForbidden)

	_, err = svc.Create(ctx, adminActor, CreateInput{UID: "u1", Email: "not-an-email", Role: "owner"})
	var fieldErrs FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	require.Contains(t, fieldErrs, "email")
	require.Contains(t, fieldErrs, "role")

	profile, err := svc.Create(ctx, adminActor, CreateInput{UID: "u1", Email: "u1@example.com", Role: "viewer"})
	require.NoError(t, err)
	require.Equal(t, rbac.RoleViewer, profile.Role)

	_, err = svc.Create(ctx, adminActor, CreateInput{UID: "u2", Email: "U1@example.com", Role: "viewer"})
	require.ErrorIs(t, err, ErrExists)

	require.NoError(t, svc.UpdateRole(ctx, adminActor, "u1", rbac.RolePricingManager))
	require.ErrorIs(t, svc.UpdateRole(ctx, adminActor, "ghost", rbac.RoleViewer), ErrNotFound)
	require.ErrorAs(t, svc.UpdateRole(ctx, adminActor, "u1", rbac.Role("Admin")), &fieldErrs)

	list, err := svc.List(ctx, adminActor)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, rbac.RolePricingManager, list[0].Role)
}

func TestHandlerRoutes(t *testing.T) {
	svc := NewService(NewMemoryRepository(Profile{UID: "admin-1", Email: "admin@example.com", Role: rbac.RoleAdmin}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Identity: svc, Logger: logger}
	h := NewHandler(logger, svc, mw)

	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/api/me", h.MountMeRoutes)
	r.Route("/api/users", h.MountRoutes)

	do := func(method, path, uid, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(rbac.DefaultUIDHeader, uid)
		req.Header.Set(rbac.DefaultEmailHeader, uid+"@example.com")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodGet, "/api/me", "someone", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"role":"viewer"`)
	require.Contains(t, rr.Body.String(), `"manageUsers":false`)

	rr = do(http.MethodGet, "/api/users", "someone", "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(http.MethodPost, "/api/users", "admin-1", `{"uid":"pm-1","email":"pm@example.com","role":"pricing_manager"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(http.MethodPost, "/api/users", "admin-1", `{"uid":"pm-2","email":"bad","role":"pricing_manager"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(http.MethodPatch, "/api/users/pm-1/role", "admin-1", `{"role":"admin"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(http.MethodGet, "/api/me", "pm-1", "")
	require.Contains(t, rr.Body.String(), `"manageUsers":true`)
}

func TestEnsureAdmin(t *testing.T) {
	repo := NewMemoryRepository(Profile{UID: "u1", Email: "u1@example.com", Role: rbac.RoleViewer})
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "", ""))
	require.NoError(t, svc.EnsureAdmin(ctx, "root", "root@example.com"))
	require.NoError(t, svc.EnsureAdmin(ctx, "root", "root@example.com"))
	require.NoError(t, svc.EnsureAdmin(ctx, "u1", ""))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, p := range list {
		require.Equal(t, rbac.RoleAdmin, p.Role)
	}
}

package users

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pricebook/pricebook/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetByUID(ctx context.Context, uid string) (Profile, error)
	List(ctx context.Context) ([]Profile, error)
	Create(ctx context.Context, p Profile) error
	UpdateRole(ctx context.Context, uid string, role rbac.Role) error
}

// Service handles user business logic.
type Service struct {
	repo      RepositoryPort
	validator *validator.Validate
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Service{repo: repo, validator: v, now: func() time.Time { return time.Now().UTC() }}
}

// ResolveIdentity maps an identity provider subject onto a principal. A missing
// profile resolves to a viewer carrying the provider's email.
func (s *Service) ResolveIdentity(ctx context.Context, uid, email string) (rbac.Principal, error) {
	profile, err := s.repo.GetByUID(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return rbac.NewPrincipal(uid, email, rbac.RoleViewer), nil
	}
	if err != nil {
		return rbac.Principal{}, err
	}
	if profile.Email != "" {
		email = profile.Email
	}
	return rbac.NewPrincipal(uid, email, profile.Role), nil
}

// Me returns the caller's profile, synthesising one when the directory has no entry.
func (s *Service) Me(ctx context.Context, p rbac.Principal) (Profile, error) {
	profile, err := s.repo.GetByUID(ctx, p.UID)
	if errors.Is(err, ErrNotFound) {
		return Profile{UID: p.UID, Email: p.Email, Role: p.Role}, nil
	}
	return profile, err
}

// List returns every profile.
func (s *Service) List(ctx context.Context, actor rbac.Principal) ([]Profile, error) {
	if err := rbac.Authorize(actor, rbac.CapManageUsers); err != nil {
		return nil, err
	}
	return s.repo.List(ctx)
}

// Create validates and stores a new profile.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, in CreateInput) (Profile, error) {
	if err := rbac.Authorize(actor, rbac.CapManageUsers); err != nil {
		return Profile{}, err
	}
	in.UID = strings.TrimSpace(in.UID)
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Role = strings.TrimSpace(in.Role)
	if err := s.validator.Struct(in); err != nil {
		fieldErrs := FieldErrors{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fieldErrs[fieldErr.Field()] = fieldErr.Error()
			}
		}
		return Profile{}, fieldErrs
	}
	profile := Profile{
		UID:         in.UID,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Role:        rbac.Role(in.Role),
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// UpdateRole assigns a new role to uid.
func (s *Service) UpdateRole(ctx context.Context, actor rbac.Principal, uid string, role rbac.Role) error {
	if err := rbac.Authorize(actor, rbac.CapManageUsers); err != nil {
		return err
	}
	if !role.Valid() {
		return FieldErrors{"role": "role must be one of admin, pricing_manager, viewer"}
	}
	return s.repo.UpdateRole(ctx, uid, role)
}

// EnsureAdmin creates an admin profile for uid unless one exists. It seeds
// fresh deployments that have no one able to assign roles.
func (s *Service) EnsureAdmin(ctx context.Context, uid, email string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil
	}
	existing, err := s.repo.GetByUID(ctx, uid)
	switch {
	case err == nil:
		if existing.Role == rbac.RoleAdmin {
			return nil
		}
		return s.repo.UpdateRole(ctx, uid, rbac.RoleAdmin)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	err = s.repo.Create(ctx, Profile{
		UID:       uid,
		Email:     strings.TrimSpace(email),
		Role:      rbac.RoleAdmin,
		CreatedAt: s.now(),
	})
	if errors.Is(err, ErrExists) {
		return nil
	}
	return err
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"giftline/internal/config"
	"giftline/internal/domain"
	"giftline/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// UnknownRoleError indicates a staff role with no configured permissions.
type UnknownRoleError struct {
	Role string
}

func (e UnknownRoleError) Error() string {
	return fmt.Sprintf("role %s is not configured", e.Role)
}

// ErrUnknownStaff is returned when an identity does not match a staff row.
var ErrUnknownStaff = errors.New("unknown staff")

// Scope is the capability a single request runs with. The zero value holds
// no permissions.
type Scope struct {
	StaffID int64
	Role    string
	perms   map[string]struct{}
	all     bool
}

func NewScope(staffID int64, role string, permissions []string) Scope {
	s := Scope{StaffID: staffID, Role: role, perms: map[string]struct{}{}}
	for _, p := range permissions {
		if p == domain.PermAll {
			s.all = true
			continue
		}
		s.perms[p] = struct{}{}
	}
	return s
}

// System returns a scope with every permission and no acting staff, used by
// bootstrap commands that run outside a request.
func System() Scope {
	return NewScope(0, "system", []string{domain.PermAll})
}

func (s Scope) Has(perm string) bool {
	if s.all {
		return true
	}
	_, ok := s.perms[perm]
	return ok
}

// Require fails with ForbiddenError unless the scope holds perm.
func (s Scope) Require(perm string) error {
	if s.Has(perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// Permissions lists the effective permissions, expanded for wildcard grants.
func (s Scope) Permissions() []string {
	var out []string
	if s.all {
		out = append(out, domain.AllPermissions...)
	} else {
		for p := range s.perms {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Actor returns the acting staff id, nil for system scopes.
func (s Scope) Actor() *int64 {
	if s.StaffID == 0 {
		return nil
	}
	id := s.StaffID
	return &id
}

// Service resolves staff identities into scopes.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

// Resolve loads the staff row and builds its scope from the role catalog.
func (s Service) Resolve(ctx context.Context, staffID int64) (Scope, domain.Staff, error) {
	staff, err := s.Repo.GetStaff(ctx, staffID)
	if errors.Is(err, repo.ErrNotFound) {
		return Scope{}, staff, ErrUnknownStaff
	}
	if err != nil {
		return Scope{}, staff, err
	}
	if s.Config == nil {
		return Scope{}, staff, UnknownRoleError{Role: staff.Role}
	}
	perms, ok := s.Config.RolePermissions(staff.Role)
	if !ok {
		return Scope{}, staff, UnknownRoleError{Role: staff.Role}
	}
	return NewScope(staff.ID, staff.Role, perms), staff, nil
}

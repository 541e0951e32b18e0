package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"giftline/internal/domain"
	"giftline/internal/engine/auth"
	"giftline/internal/events"
	"giftline/internal/repo"
)

func (e Engine) ListCodes(ctx context.Context, scope auth.Scope, table repo.CodeTable) ([]domain.StatusCode, error) {
	if err := scope.Require(domain.PermCodesRead); err != nil {
		return nil, err
	}
	return e.Repo.ListCodes(ctx, table)
}

// CodeOptions identify a code row and carry its description.
type CodeOptions struct {
	Code        string `validate:"required,max=32"`
	Description string `validate:"required,max=200"`
}

func (e Engine) CreateCode(ctx context.Context, scope auth.Scope, table repo.CodeTable, opts CodeOptions) (domain.StatusCode, error) {
	if err := scope.Require(domain.PermCodesWrite); err != nil {
		return domain.StatusCode{}, err
	}
	opts.Code = normalizeCode(opts.Code)
	opts.Description = strings.TrimSpace(opts.Description)
	if err := check(opts); err != nil {
		return domain.StatusCode{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.StatusCode{}, err
	}
	defer tx.Rollback()
	c := domain.StatusCode{Code: opts.Code, Description: opts.Description}
	if err := e.Repo.InsertCodeTx(ctx, tx, table, c); errors.Is(err, repo.ErrConflict) {
		return domain.StatusCode{}, conflict("code_exists", "code %s already exists", c.Code)
	} else if err != nil {
		return domain.StatusCode{}, storeErr(err, "code")
	}
	if err := e.eventLog().Append(ctx, tx, events.CodeCreated, string(table), 0, scope.StaffID, events.EventPayload{"code": c.Code}); err != nil {
		return domain.StatusCode{}, err
	}
	if err := commit(tx); err != nil {
		return domain.StatusCode{}, err
	}
	return c, nil
}

func (e Engine) UpdateCode(ctx context.Context, scope auth.Scope, table repo.CodeTable, opts CodeOptions) (domain.StatusCode, error) {
	if err := scope.Require(domain.PermCodesWrite); err != nil {
		return domain.StatusCode{}, err
	}
	opts.Code = normalizeCode(opts.Code)
	opts.Description = strings.TrimSpace(opts.Description)
	if err := check(opts); err != nil {
		return domain.StatusCode{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.StatusCode{}, err
	}
	defer tx.Rollback()
	c := domain.StatusCode{Code: opts.Code, Description: opts.Description}
	if err := e.Repo.UpdateCodeTx(ctx, tx, table, c); err != nil {
		return domain.StatusCode{}, storeErr(err, fmt.Sprintf("code %s", c.Code))
	}
	if err := e.eventLog().Append(ctx, tx, events.CodeUpdated, string(table), 0, scope.StaffID, events.EventPayload{"code": c.Code}); err != nil {
		return domain.StatusCode{}, err
	}
	if err := commit(tx); err != nil {
		return domain.StatusCode{}, err
	}
	return c, nil
}

// DeleteCode removes an unreferenced code.
func (e Engine) DeleteCode(ctx context.Context, scope auth.Scope, table repo.CodeTable, code string) error {
	if err := scope.Require(domain.PermCodesWrite); err != nil {
		return err
	}
	code = normalizeCode(code)
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetCodeTx(ctx, tx, table, code); err != nil {
		return storeErr(err, fmt.Sprintf("code %s", code))
	}
	n, err := e.Repo.CodeInUseTx(ctx, tx, table, code)
	if err != nil {
		return err
	}
	if n > 0 {
		return conflict("code_in_use", "code %s is used by %d recipients", code, n).with("recipients", n)
	}
	if err := e.Repo.DeleteCodeTx(ctx, tx, table, code); err != nil {
		return storeErr(err, fmt.Sprintf("code %s", code))
	}
	if err := e.eventLog().Append(ctx, tx, events.CodeDeleted, string(table), 0, scope.StaffID, events.EventPayload{"code": code}); err != nil {
		return err
	}
	return commit(tx)
}

func (e Engine) ListRegions(ctx context.Context, scope auth.Scope) ([]domain.Region, error) {
	if err := scope.Require(domain.PermRegionsRead); err != nil {
		return nil, err
	}
	return e.Repo.ListRegions(ctx)
}

// CreateStaffOptions are parameters for a new staff account.
type CreateStaffOptions struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,min=6,max=72"`
	Name     string `validate:"required,max=200"`
	Role     string `validate:"required"`
}

func (e Engine) CreateStaff(ctx context.Context, scope auth.Scope, opts CreateStaffOptions) (domain.Staff, error) {
	if err := scope.Require(domain.PermStaffWrite); err != nil {
		return domain.Staff{}, err
	}
	opts.Username = strings.TrimSpace(opts.Username)
	opts.Name = strings.TrimSpace(opts.Name)
	opts.Role = strings.TrimSpace(opts.Role)
	if err := check(opts); err != nil {
		return domain.Staff{}, err
	}
	if e.Config != nil {
		if _, ok := e.Config.RolePermissions(opts.Role); !ok {
			return domain.Staff{}, invalid("unknown_role", "role %s is not configured", opts.Role).with("role", opts.Role)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Staff{}, fmt.Errorf("hash password: %w", err)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Staff{}, err
	}
	defer tx.Rollback()
	s := repo.StaffCredentials{
		Staff:        domain.Staff{Username: opts.Username, Name: opts.Name, Role: opts.Role, CreatedAt: e.stamp()},
		PasswordHash: string(hash),
	}
	s.ID, err = e.Repo.InsertStaffTx(ctx, tx, s)
	if errors.Is(err, repo.ErrConflict) {
		return domain.Staff{}, conflict("username_taken", "username %s is taken", opts.Username)
	}
	if err != nil {
		return domain.Staff{}, storeErr(err, "staff")
	}
	if err := e.eventLog().Append(ctx, tx, events.StaffCreated, "staff", s.ID, scope.StaffID, events.EventPayload{"role": s.Role}); err != nil {
		return domain.Staff{}, err
	}
	if err := commit(tx); err != nil {
		return domain.Staff{}, err
	}
	return s.Staff, nil
}

func (e Engine) ListStaff(ctx context.Context, scope auth.Scope) ([]domain.Staff, error) {
	if err := scope.Require(domain.PermStaffRead); err != nil {
		return nil, err
	}
	return e.Repo.ListStaff(ctx)
}

var errBadCredentials = &Error{Kind: KindUnauthorized, Code: "invalid_credentials", Message: "invalid username or password"}

// Login checks a username and password against the stored bcrypt hash.
func (e Engine) Login(ctx context.Context, username, password string) (domain.Staff, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return domain.Staff{}, errBadCredentials
	}
	s, err := e.Repo.StaffByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Staff{}, errBadCredentials
	}
	if err != nil {
		return domain.Staff{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(password)); err != nil {
		return domain.Staff{}, errBadCredentials
	}
	return s.Staff, nil
}

// EventQuery pages the operational event log.
type EventQuery struct {
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

func (e Engine) ListEvents(ctx context.Context, scope auth.Scope, q EventQuery) ([]domain.Event, error) {
	if err := scope.Require(domain.PermEventsRead); err != nil {
		return nil, err
	}
	return e.Repo.LatestEventsFrom(ctx, repo.EventFilters{
		Type:       q.Type,
		EntityKind: q.EntityKind,
		EntityID:   q.EntityID,
		Cursor:     q.Cursor,
		Limit:      q.Limit,
	})
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"giftline/internal/domain"
	"giftline/internal/engine/auth"
)

func (e Engine) ListRules(ctx context.Context, scope auth.Scope) ([]domain.Rule, error) {
	if err := scope.Require(domain.PermCodesRead); err != nil {
		return nil, err
	}
	return e.Repo.ListRules(ctx)
}

// RuleOptions carry rule text. On update nil fields keep their value.
type RuleOptions struct {
	Title       *string
	Description *string
}

func (e Engine) CreateRule(ctx context.Context, scope auth.Scope, opts RuleOptions) (domain.Rule, error) {
	if err := scope.Require(domain.PermCodesWrite); err != nil {
		return domain.Rule{}, err
	}
	if opts.Title == nil || strings.TrimSpace(*opts.Title) == "" || opts.Description == nil || strings.TrimSpace(*opts.Description) == "" {
		return domain.Rule{}, invalid("validation_failed", "title and description are required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	now := e.stamp()
	rl := domain.Rule{
		Title:       strings.TrimSpace(*opts.Title),
		Description: strings.TrimSpace(*opts.Description),
		CreatedBy:   scope.Actor(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rl.ID, err = e.Repo.InsertRuleTx(ctx, tx, rl)
	if err != nil {
		return domain.Rule{}, storeErr(err, "rule")
	}
	if err := commit(tx); err != nil {
		return domain.Rule{}, err
	}
	return rl, nil
}

func (e Engine) UpdateRule(ctx context.Context, scope auth.Scope, id int64, opts RuleOptions) (domain.Rule, error) {
	if err := scope.Require(domain.PermCodesWrite); err != nil {
		return domain.Rule{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	rl, err := e.Repo.GetRuleTx(ctx, tx, id)
	if err != nil {
		return domain.Rule{}, storeErr(err, fmt.Sprintf("rule %d", id))
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Rule{}, invalid("validation_failed", "title must not be empty")
		}
		rl.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		if strings.TrimSpace(*opts.Description) == "" {
			return domain.Rule{}, invalid("validation_failed", "description must not be empty")
		}
		rl.Description = strings.TrimSpace(*opts.Description)
	}
	rl.UpdatedBy = scope.Actor()
	rl.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRuleTx(ctx, tx, rl); err != nil {
		return domain.Rule{}, storeErr(err, fmt.Sprintf("rule %d", id))
	}
	if err := commit(tx); err != nil {
		return domain.Rule{}, err
	}
	return rl, nil
}

func (e Engine) DeleteRule(ctx context.Context, scope auth.Scope, id int64) error {
	if err := scope.Require(domain.PermCodesWrite); err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRuleTx(ctx, tx, id); err != nil {
		return storeErr(err, fmt.Sprintf("rule %d", id))
	}
	return commit(tx)
}

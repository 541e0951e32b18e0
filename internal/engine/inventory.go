package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"giftline/internal/domain"
	"giftline/internal/engine/auth"
	"giftline/internal/events"
	"giftline/internal/repo"
)

func (e Engine) ListGifts(ctx context.Context, scope auth.Scope) ([]domain.Gift, error) {
	if err := scope.Require(domain.PermInventoryRead); err != nil {
		return nil, err
	}
	return e.Repo.ListGifts(ctx)
}

func (e Engine) ListMaterials(ctx context.Context, scope auth.Scope) ([]domain.Material, error) {
	if err := scope.Require(domain.PermInventoryRead); err != nil {
		return nil, err
	}
	return e.Repo.ListMaterials(ctx)
}

// Recipe returns the input lines consumed to make one unit of a gift.
func (e Engine) Recipe(ctx context.Context, scope auth.Scope, giftID int64) ([]domain.RecipeLine, error) {
	if err := scope.Require(domain.PermInventoryRead); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetGift(ctx, giftID); err != nil {
		return nil, storeErr(err, fmt.Sprintf("gift %d", giftID))
	}
	lines, err := e.Repo.Recipe(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []domain.RecipeLine{}
	}
	return lines, nil
}

// ProduceOptions ask for quantity more units of a gift. Quantity is capped so
// recipe totals and stock columns stay within integer range.
type ProduceOptions struct {
	GiftID   int64 `validate:"gt=0"`
	Quantity int   `validate:"gt=0,lte=1000000"`
}

// Produce adds stock directly without consuming materials. It is the manual
// override path and needs its own permission.
func (e Engine) Produce(ctx context.Context, scope auth.Scope, opts ProduceOptions) (domain.Gift, error) {
	if err := scope.Require(domain.PermManualProduce); err != nil {
		return domain.Gift{}, err
	}
	if err := check(opts); err != nil {
		return domain.Gift{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Gift{}, err
	}
	defer tx.Rollback()
	gift, err := e.Repo.GetGiftTx(ctx, tx, opts.GiftID)
	if err != nil {
		return domain.Gift{}, storeErr(err, fmt.Sprintf("gift %d", opts.GiftID))
	}
	gift.Stock, err = e.Repo.AddGiftStockTx(ctx, tx, gift.ID, opts.Quantity)
	if err != nil {
		return domain.Gift{}, storeErr(err, fmt.Sprintf("gift %d", gift.ID))
	}
	if err := e.eventLog().Append(ctx, tx, events.InventoryProduced, "gift", gift.ID, scope.StaffID, events.EventPayload{
		"quantity":  opts.Quantity,
		"new_stock": gift.Stock,
	}); err != nil {
		return domain.Gift{}, err
	}
	if err := commit(tx); err != nil {
		return domain.Gift{}, err
	}
	return gift, nil
}

// MaterialShortage reports one recipe input that cannot cover a job.
type MaterialShortage struct {
	MaterialID   int64  `json:"material_id"`
	MaterialName string `json:"material_name,omitempty"`
	Required     int    `json:"required"`
	Available    int    `json:"available"`
	Missing      bool   `json:"missing,omitempty"`
}

// ProductionResult is the outcome of a recipe production job.
type ProductionResult struct {
	JobID    int64                    `json:"job_id"`
	GiftID   int64                    `json:"gift_id"`
	Quantity int                      `json:"quantity"`
	StaffID  *int64                   `json:"staff_id,omitempty"`
	NewStock int                      `json:"new_stock"`
	Usage    []domain.ProductionUsage `json:"usage"`
}

// ProduceViaRecipe consumes every recipe input and adds the output in one
// transaction, or changes nothing and lists every shortfall.
func (e Engine) ProduceViaRecipe(ctx context.Context, scope auth.Scope, opts ProduceOptions) (ProductionResult, error) {
	if err := scope.Require(domain.PermInventoryProduce); err != nil {
		return ProductionResult{}, err
	}
	if err := check(opts); err != nil {
		return ProductionResult{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return ProductionResult{}, err
	}
	defer tx.Rollback()

	gift, err := e.Repo.GetGiftTx(ctx, tx, opts.GiftID)
	if err != nil {
		return ProductionResult{}, storeErr(err, fmt.Sprintf("gift %d", opts.GiftID))
	}
	lines, stock, err := e.Repo.RecipeTx(ctx, tx, gift.ID)
	if err != nil {
		return ProductionResult{}, err
	}
	if len(lines) == 0 {
		return ProductionResult{}, invalid("recipe_missing", "gift %s has no recipe", gift.Name).with("gift_id", gift.ID)
	}
	var shortages []MaterialShortage
	usage := make([]domain.ProductionUsage, 0, len(lines))
	for _, l := range lines {
		required := l.Quantity * opts.Quantity
		available, ok := stock[l.MaterialID]
		if !ok {
			shortages = append(shortages, MaterialShortage{MaterialID: l.MaterialID, Required: required, Missing: true})
			continue
		}
		if available < required {
			shortages = append(shortages, MaterialShortage{
				MaterialID:   l.MaterialID,
				MaterialName: l.MaterialName,
				Required:     required,
				Available:    available,
			})
			continue
		}
		usage = append(usage, domain.ProductionUsage{MaterialID: l.MaterialID, MaterialName: l.MaterialName, QuantityUsed: required})
	}
	if len(shortages) > 0 {
		return ProductionResult{}, invalid("insufficient_materials", "not enough materials to make %d x %s: %s",
			opts.Quantity, gift.Name, describeMaterialShortages(shortages)).with("shortages", shortages)
	}

	for _, u := range usage {
		if _, err := e.Repo.AdjustMaterialTx(ctx, tx, u.MaterialID, -u.QuantityUsed); err != nil {
			if errors.Is(err, repo.ErrConstraint) {
				return ProductionResult{}, conflict("concurrent_update", "material %d changed during production", u.MaterialID)
			}
			return ProductionResult{}, storeErr(err, fmt.Sprintf("material %d", u.MaterialID))
		}
	}
	newStock, err := e.Repo.AddGiftStockTx(ctx, tx, gift.ID, opts.Quantity)
	if err != nil {
		return ProductionResult{}, storeErr(err, fmt.Sprintf("gift %d", gift.ID))
	}
	job := domain.ProductionJob{
		GiftID:    gift.ID,
		Quantity:  opts.Quantity,
		StaffID:   scope.Actor(),
		CreatedAt: e.stamp(),
		Usage:     usage,
	}
	job.ID, err = e.Repo.InsertProductionJobTx(ctx, tx, job)
	if err != nil {
		return ProductionResult{}, storeErr(err, "production job")
	}
	if err := e.eventLog().Append(ctx, tx, events.ProductionJob, "gift", gift.ID, scope.StaffID, events.EventPayload{
		"job_id":    job.ID,
		"quantity":  opts.Quantity,
		"new_stock": newStock,
	}); err != nil {
		return ProductionResult{}, err
	}
	if err := commit(tx); err != nil {
		return ProductionResult{}, err
	}
	return ProductionResult{
		JobID:    job.ID,
		GiftID:   gift.ID,
		Quantity: opts.Quantity,
		StaffID:  job.StaffID,
		NewStock: newStock,
		Usage:    usage,
	}, nil
}

func describeMaterialShortages(shortages []MaterialShortage) string {
	parts := make([]string, 0, len(shortages))
	for _, s := range shortages {
		if s.Missing {
			parts = append(parts, fmt.Sprintf("material %d (not found)", s.MaterialID))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (need %d, have %d)", s.MaterialName, s.Required, s.Available))
	}
	return strings.Join(parts, ", ")
}

func (e Engine) ListProductionJobs(ctx context.Context, scope auth.Scope, limit int) ([]domain.ProductionJob, error) {
	if err := scope.Require(domain.PermProductionRead); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	jobs, err := e.Repo.ListProductionJobs(ctx, limit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []domain.ProductionJob{}
	}
	return jobs, nil
}

// AdjustMaterialOptions apply a signed stock correction.
type AdjustMaterialOptions struct {
	MaterialID int64 `validate:"gt=0"`
	Delta      int   `validate:"ne=0,gte=-1000000,lte=1000000"`
	Reason     string
}

// AdjustMaterial corrects raw material stock, refusing to go below zero.
func (e Engine) AdjustMaterial(ctx context.Context, scope auth.Scope, opts AdjustMaterialOptions) (domain.Material, error) {
	if err := scope.Require(domain.PermInventoryAdjust); err != nil {
		return domain.Material{}, err
	}
	if err := check(opts); err != nil {
		return domain.Material{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Material{}, err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetMaterialTx(ctx, tx, opts.MaterialID)
	if err != nil {
		return domain.Material{}, storeErr(err, fmt.Sprintf("material %d", opts.MaterialID))
	}
	stock, err := e.Repo.AdjustMaterialTx(ctx, tx, m.ID, opts.Delta)
	if errors.Is(err, repo.ErrConstraint) {
		return domain.Material{}, invalid("negative_stock", "material %s has %d; cannot apply %d", m.Name, m.Stock, opts.Delta).
			with("material_id", m.ID).with("available", m.Stock)
	}
	if err != nil {
		return domain.Material{}, storeErr(err, fmt.Sprintf("material %d", m.ID))
	}
	m.Stock = stock
	if err := e.eventLog().Append(ctx, tx, events.InventoryAdjusted, "material", m.ID, scope.StaffID, events.EventPayload{
		"delta":     opts.Delta,
		"new_stock": stock,
		"reason":    opts.Reason,
	}); err != nil {
		return domain.Material{}, err
	}
	if err := commit(tx); err != nil {
		return domain.Material{}, err
	}
	return m, nil
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"giftline/internal/domain"
	"giftline/internal/engine/auth"
	"giftline/internal/events"
)

func (e Engine) ListFleet(ctx context.Context, scope auth.Scope) ([]domain.FleetUnit, error) {
	if err := scope.Require(domain.PermFleetRead); err != nil {
		return nil, err
	}
	return e.Repo.ListFleet(ctx)
}

// ListAvailableFleet lists ready, rested units with at least minMagic magic.
func (e Engine) ListAvailableFleet(ctx context.Context, scope auth.Scope, minMagic int) ([]domain.FleetUnit, error) {
	if err := scope.Require(domain.PermFleetRead); err != nil {
		return nil, err
	}
	if minMagic < 0 || minMagic > domain.MaxResource {
		return nil, invalid("validation_failed", "min_magic must be between 0 and %d", domain.MaxResource)
	}
	return e.Repo.ListAvailableFleet(ctx, minMagic)
}

// UpdateStatusOptions overwrite a unit's status and resources.
type UpdateStatusOptions struct {
	UnitID  int64  `validate:"gt=0"`
	Status  string `validate:"oneof=READY RESTING ONDELIVERY"`
	Stamina int    `validate:"gte=0,lte=100"`
	Magic   int    `validate:"gte=0,lte=100"`
}

// UpdateStatusResult reports the status applied, which differs from the one
// requested when resources forced the unit to rest.
type UpdateStatusResult struct {
	domain.FleetUnit
	RequestedStatus string `json:"requested_status"`
	Forced          bool   `json:"forced"`
}

// UpdateStatus sets status and resources. A unit below the resting threshold
// on either resource is put to RESTING whatever was requested.
func (e Engine) UpdateStatus(ctx context.Context, scope auth.Scope, opts UpdateStatusOptions) (UpdateStatusResult, error) {
	if err := scope.Require(domain.PermFleetWrite); err != nil {
		return UpdateStatusResult{}, err
	}
	opts.Status = normalizeCode(opts.Status)
	if err := check(opts); err != nil {
		return UpdateStatusResult{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return UpdateStatusResult{}, err
	}
	defer tx.Rollback()
	unit, err := e.Repo.GetFleetUnitTx(ctx, tx, opts.UnitID)
	if err != nil {
		return UpdateStatusResult{}, storeErr(err, fmt.Sprintf("fleet unit %d", opts.UnitID))
	}
	applied := opts.Status
	if opts.Stamina < domain.RestingBelow || opts.Magic < domain.RestingBelow {
		applied = domain.UnitResting
	}
	unit.Status = applied
	unit.Stamina = opts.Stamina
	unit.Magic = opts.Magic
	if err := e.Repo.SetFleetStateTx(ctx, tx, unit); err != nil {
		return UpdateStatusResult{}, storeErr(err, fmt.Sprintf("fleet unit %d", unit.ID))
	}
	if err := e.eventLog().Append(ctx, tx, events.FleetStatusUpdated, "fleet_unit", unit.ID, scope.StaffID, events.EventPayload{
		"requested_status": opts.Status,
		"status":           applied,
		"stamina":          unit.Stamina,
		"magic":            unit.Magic,
	}); err != nil {
		return UpdateStatusResult{}, err
	}
	if err := commit(tx); err != nil {
		return UpdateStatusResult{}, err
	}
	return UpdateStatusResult{FleetUnit: unit, RequestedStatus: opts.Status, Forced: applied != opts.Status}, nil
}

// LogHealth appends a note. It never touches resources.
func (e Engine) LogHealth(ctx context.Context, scope auth.Scope, unitID int64, note string) (domain.HealthLog, error) {
	if err := scope.Require(domain.PermFleetHealth); err != nil {
		return domain.HealthLog{}, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return domain.HealthLog{}, invalid("validation_failed", "note is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.HealthLog{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetFleetUnitTx(ctx, tx, unitID); err != nil {
		return domain.HealthLog{}, storeErr(err, fmt.Sprintf("fleet unit %d", unitID))
	}
	l := domain.HealthLog{UnitID: unitID, Note: note, CreatedAt: e.stamp()}
	l.ID, err = e.Repo.InsertHealthLogTx(ctx, tx, l)
	if err != nil {
		return domain.HealthLog{}, storeErr(err, "health log")
	}
	if err := e.eventLog().Append(ctx, tx, events.FleetHealthLogged, "fleet_unit", unitID, scope.StaffID, events.EventPayload{"log_id": l.ID}); err != nil {
		return domain.HealthLog{}, err
	}
	if err := commit(tx); err != nil {
		return domain.HealthLog{}, err
	}
	return l, nil
}

func (e Engine) ListHealthLogs(ctx context.Context, scope auth.Scope, unitID int64) ([]domain.HealthLog, error) {
	if err := scope.Require(domain.PermFleetRead); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetFleetUnit(ctx, unitID); err != nil {
		return nil, storeErr(err, fmt.Sprintf("fleet unit %d", unitID))
	}
	return e.Repo.ListHealthLogs(ctx, unitID)
}

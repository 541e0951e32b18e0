package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"giftline/internal/domain"
	"giftline/internal/engine/auth"
	"giftline/internal/events"
	"giftline/internal/repo"
)

// CreateGroupOptions are parameters for opening a delivery group.
type CreateGroupOptions struct {
	Name        string `validate:"required,max=200"`
	FleetUnitID int64  `validate:"gt=0"`
}

// CreateGroup opens a PENDING group bound to a fleet unit that is ready and
// rested enough to be assigned.
func (e Engine) CreateGroup(ctx context.Context, scope auth.Scope, opts CreateGroupOptions) (domain.DeliveryGroup, error) {
	if err := scope.Require(domain.PermGroupsWrite); err != nil {
		return domain.DeliveryGroup{}, err
	}
	opts.Name = strings.TrimSpace(opts.Name)
	if err := check(opts); err != nil {
		return domain.DeliveryGroup{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.DeliveryGroup{}, err
	}
	defer tx.Rollback()

	unit, err := e.Repo.GetFleetUnitTx(ctx, tx, opts.FleetUnitID)
	if err != nil {
		return domain.DeliveryGroup{}, storeErr(err, fmt.Sprintf("fleet unit %d", opts.FleetUnitID))
	}
	if unit.Status != domain.UnitReady || unit.Stamina < domain.AssignMinStamina {
		return domain.DeliveryGroup{}, invalid("fleet_unit_unavailable",
			"fleet unit %s is not available (status %s, stamina %d)", unit.Name, unit.Status, unit.Stamina).
			with("fleet_unit_id", unit.ID)
	}
	now := e.stamp()
	g := domain.DeliveryGroup{
		Name:        opts.Name,
		FleetUnitID: unit.ID,
		CreatedBy:   scope.Actor(),
		Status:      domain.GroupPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	g.ID, err = e.Repo.InsertGroupTx(ctx, tx, g)
	if err != nil {
		return domain.DeliveryGroup{}, storeErr(err, "group")
	}
	if err := e.eventLog().Append(ctx, tx, events.GroupCreated, "group", g.ID, scope.StaffID, events.EventPayload{
		"name":          g.Name,
		"fleet_unit_id": g.FleetUnitID,
	}); err != nil {
		return domain.DeliveryGroup{}, err
	}
	if err := commit(tx); err != nil {
		return domain.DeliveryGroup{}, err
	}
	return g, nil
}

// AddItemOptions pair a recipient with the gift they should receive.
type AddItemOptions struct {
	GroupID     int64 `validate:"gt=0"`
	RecipientID int64 `validate:"gt=0"`
	GiftID      int64 `validate:"gt=0"`
}

// AddItem places a recipient in a pending group. Stock is not checked here.
func (e Engine) AddItem(ctx context.Context, scope auth.Scope, opts AddItemOptions) (domain.GroupItem, error) {
	if err := scope.Require(domain.PermGroupsWrite); err != nil {
		return domain.GroupItem{}, err
	}
	if err := check(opts); err != nil {
		return domain.GroupItem{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.GroupItem{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGroupTx(ctx, tx, opts.GroupID)
	if err != nil {
		return domain.GroupItem{}, storeErr(err, fmt.Sprintf("group %d", opts.GroupID))
	}
	if g.Status != domain.GroupPending {
		return domain.GroupItem{}, conflict("group_not_pending", "group %d is %s; items can only be added while PENDING", g.ID, g.Status)
	}
	rc, err := e.Repo.GetRecipientTx(ctx, tx, opts.RecipientID)
	if err != nil {
		return domain.GroupItem{}, storeErr(err, fmt.Sprintf("recipient %d", opts.RecipientID))
	}
	in, err := e.Repo.InGroupTx(ctx, tx, g.ID, rc.ID)
	if err != nil {
		return domain.GroupItem{}, err
	}
	if in {
		return domain.GroupItem{}, conflict("recipient_in_group", "recipient %d is already in group %d", rc.ID, g.ID).
			with("recipient_id", rc.ID)
	}
	other, found, err := e.Repo.PendingGroupOfTx(ctx, tx, rc.ID)
	if err != nil {
		return domain.GroupItem{}, err
	}
	if found {
		return domain.GroupItem{}, conflict("recipient_in_other_group", "recipient %d already belongs to pending group %d", rc.ID, other).
			with("recipient_id", rc.ID).with("group_id", other)
	}
	gift, err := e.Repo.GetGiftTx(ctx, tx, opts.GiftID)
	if err != nil {
		return domain.GroupItem{}, storeErr(err, fmt.Sprintf("gift %d", opts.GiftID))
	}
	item := domain.GroupItem{
		GroupID:       g.ID,
		RecipientID:   rc.ID,
		RecipientName: rc.Name,
		GiftID:        gift.ID,
		GiftName:      gift.Name,
		Active:        true,
	}
	item.ID, err = e.Repo.InsertGroupItemTx(ctx, tx, item)
	if errors.Is(err, repo.ErrConflict) {
		return domain.GroupItem{}, conflict("recipient_in_other_group", "recipient %d already belongs to a pending group", rc.ID).
			with("recipient_id", rc.ID)
	}
	if err != nil {
		return domain.GroupItem{}, storeErr(err, "group item")
	}
	if err := e.eventLog().Append(ctx, tx, events.GroupItemAdded, "group", g.ID, scope.StaffID, events.EventPayload{
		"recipient_id": rc.ID,
		"gift_id":      gift.ID,
	}); err != nil {
		return domain.GroupItem{}, err
	}
	if err := commit(tx); err != nil {
		return domain.GroupItem{}, err
	}
	return item, nil
}

// FulfillResult summarizes a completed delivery run.
type FulfillResult struct {
	GroupID        int64  `json:"group_id"`
	Status         string `json:"status"`
	DeliveredCount int    `json:"delivered_count"`
	FleetUnitID    int64  `json:"fleet_unit_id"`
}

// Shortage describes one gift the group needs more of than is in stock.
type Shortage struct {
	GiftID    int64  `json:"gift_id"`
	GiftName  string `json:"gift_name,omitempty"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
	Shortfall int    `json:"shortfall"`
	Missing   bool   `json:"missing,omitempty"`
}

// Fulfill delivers every item of a pending group in one transaction. Any
// failure after the transaction starts rolls everything back and then marks
// the group FAILED in a separate commit.
func (e Engine) Fulfill(ctx context.Context, scope auth.Scope, groupID int64) (FulfillResult, error) {
	if err := scope.Require(domain.PermGroupsFulfill); err != nil {
		return FulfillResult{}, err
	}
	g, err := e.Repo.GetGroup(ctx, groupID)
	if err != nil {
		return FulfillResult{}, storeErr(err, fmt.Sprintf("group %d", groupID))
	}
	if g.Status != domain.GroupPending {
		return FulfillResult{}, conflict("group_not_pending", "group %d is already %s", g.ID, g.Status)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return FulfillResult{}, err
	}
	res, err := e.fulfillTx(ctx, tx, scope, g.ID)
	if err == nil {
		return res, nil
	}
	e.markFailed(ctx, scope, g.ID, err)
	if KindOf(err) == KindInternal {
		return FulfillResult{}, &Error{Kind: KindInternal, Code: "fulfillment_failed", Message: "fulfillment failed unexpectedly", Err: err}
	}
	return FulfillResult{}, err
}

func (e Engine) fulfillTx(ctx context.Context, tx *sql.Tx, scope auth.Scope, groupID int64) (FulfillResult, error) {
	defer tx.Rollback()

	g, err := e.Repo.GetGroupTx(ctx, tx, groupID)
	if err != nil {
		return FulfillResult{}, storeErr(err, fmt.Sprintf("group %d", groupID))
	}
	if g.Status != domain.GroupPending {
		return FulfillResult{}, conflict("group_not_pending", "group %d is already %s", g.ID, g.Status)
	}
	items, err := e.Repo.GroupItemsTx(ctx, tx, g.ID)
	if err != nil {
		return FulfillResult{}, err
	}
	if len(items) == 0 {
		return FulfillResult{}, invalid("group_empty", "group %d has no items", g.ID)
	}
	unit, err := e.Repo.GetFleetUnitTx(ctx, tx, g.FleetUnitID)
	if err != nil {
		return FulfillResult{}, storeErr(err, fmt.Sprintf("fleet unit %d", g.FleetUnitID))
	}
	if unit.Status != domain.UnitReady || unit.Stamina < domain.FulfillMinStamina || unit.Magic < domain.FulfillMinMagic {
		return FulfillResult{}, invalid("fleet_unit_unavailable",
			"fleet unit %s cannot deliver (status %s, stamina %d, magic %d)", unit.Name, unit.Status, unit.Stamina, unit.Magic).
			with("fleet_unit_id", unit.ID)
	}

	if shortages, err := e.stockShortagesTx(ctx, tx, items); err != nil {
		return FulfillResult{}, err
	} else if len(shortages) > 0 {
		return FulfillResult{}, invalid("insufficient_stock", "insufficient stock: %s", describeShortages(shortages)).
			with("shortages", shortages)
	}

	now := e.stamp()
	for _, it := range items {
		rc, err := e.Repo.GetRecipientTx(ctx, tx, it.RecipientID)
		if err != nil {
			return FulfillResult{}, storeErr(err, fmt.Sprintf("recipient %d", it.RecipientID))
		}
		if rc.DeliveryStatus == domain.DeliveryDelivered {
			return FulfillResult{}, conflict("recipient_already_delivered", "recipient %s (%d) was already delivered", rc.Name, rc.ID).
				with("recipient_id", rc.ID)
		}
		if err := e.Repo.TakeGiftTx(ctx, tx, it.GiftID, 1); err != nil {
			if errors.Is(err, repo.ErrConstraint) {
				return FulfillResult{}, invalid("insufficient_stock", "gift %d ran out of stock", it.GiftID).with("gift_id", it.GiftID)
			}
			return FulfillResult{}, storeErr(err, fmt.Sprintf("gift %d", it.GiftID))
		}
		if err := e.Repo.SetDeliveryStatusTx(ctx, tx, rc.ID, domain.DeliveryDelivered); err != nil {
			return FulfillResult{}, storeErr(err, fmt.Sprintf("recipient %d", rc.ID))
		}
		gid := g.ID
		if _, err := e.Repo.InsertDeliveryRecordTx(ctx, tx, domain.DeliveryRecord{
			RecipientID: rc.ID,
			GiftID:      it.GiftID,
			GroupID:     &gid,
			StaffID:     scope.Actor(),
			DeliveredAt: now,
		}); err != nil {
			return FulfillResult{}, storeErr(err, "delivery record")
		}
	}

	dispatched, err := e.Repo.DispatchFleetUnitTx(ctx, tx, unit.ID)
	if err != nil {
		return FulfillResult{}, storeErr(err, fmt.Sprintf("fleet unit %d", unit.ID))
	}
	if !dispatched {
		return FulfillResult{}, conflict("concurrent_update", "fleet unit %d changed during fulfillment", unit.ID)
	}
	closed, err := e.Repo.CloseGroupTx(ctx, tx, g.ID, domain.GroupDone, "", now)
	if err != nil {
		return FulfillResult{}, storeErr(err, fmt.Sprintf("group %d", g.ID))
	}
	if !closed {
		return FulfillResult{}, conflict("concurrent_update", "group %d changed during fulfillment", g.ID)
	}
	if err := e.eventLog().Append(ctx, tx, events.GroupFulfilled, "group", g.ID, scope.StaffID, events.EventPayload{
		"delivered_count": len(items),
		"fleet_unit_id":   unit.ID,
	}); err != nil {
		return FulfillResult{}, err
	}
	if err := commit(tx); err != nil {
		return FulfillResult{}, err
	}
	return FulfillResult{GroupID: g.ID, Status: domain.GroupDone, DeliveredCount: len(items), FleetUnitID: unit.ID}, nil
}

// stockShortagesTx aggregates demand per gift and reports every gift whose
// stock cannot cover it, in order of first appearance.
func (e Engine) stockShortagesTx(ctx context.Context, tx *sql.Tx, items []domain.GroupItem) ([]Shortage, error) {
	demand := map[int64]int{}
	var order []int64
	for _, it := range items {
		if _, seen := demand[it.GiftID]; !seen {
			order = append(order, it.GiftID)
		}
		demand[it.GiftID]++
	}
	gifts, err := e.Repo.GiftsByIDTx(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	var shortages []Shortage
	for _, id := range order {
		need := demand[id]
		g, ok := gifts[id]
		if !ok {
			shortages = append(shortages, Shortage{GiftID: id, Required: need, Shortfall: need, Missing: true})
			continue
		}
		if g.Stock < need {
			shortages = append(shortages, Shortage{
				GiftID:    id,
				GiftName:  g.Name,
				Required:  need,
				Available: g.Stock,
				Shortfall: need - g.Stock,
			})
		}
	}
	return shortages, nil
}

func describeShortages(shortages []Shortage) string {
	parts := make([]string, 0, len(shortages))
	for _, s := range shortages {
		if s.Missing {
			parts = append(parts, fmt.Sprintf("gift %d (not found)", s.GiftID))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (short %d)", s.GiftName, s.Shortfall))
	}
	return strings.Join(parts, ", ")
}

// markFailed records a failed run in its own transaction. It never masks the
// original error; problems are logged.
func (e Engine) markFailed(ctx context.Context, scope auth.Scope, groupID int64, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := e.Log.With().Int64("group_id", groupID).Logger()
	tx, err := e.begin(ctx)
	if err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("could not mark delivery group failed")
		return
	}
	defer tx.Rollback()
	closed, err := e.Repo.CloseGroupTx(ctx, tx, groupID, domain.GroupFailed, cause.Error(), e.stamp())
	if err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("could not mark delivery group failed")
		return
	}
	if !closed {
		return
	}
	payload := events.EventPayload{"reason": cause.Error()}
	var ee *Error
	if errors.As(cause, &ee) {
		payload["code"] = ee.Code
	}
	if err := e.eventLog().Append(ctx, tx, events.GroupFailed, "group", groupID, scope.StaffID, payload); err != nil {
		log.Error().Err(err).Msg("could not record group failure event")
		return
	}
	if err := commit(tx); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("could not mark delivery group failed")
		return
	}
	log.Warn().Err(cause).Msg("delivery group failed")
}

// DeleteGroup removes a PENDING or FAILED group together with its items.
func (e Engine) DeleteGroup(ctx context.Context, scope auth.Scope, groupID int64) error {
	if err := scope.Require(domain.PermGroupsWrite); err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	g, err := e.Repo.GetGroupTx(ctx, tx, groupID)
	if err != nil {
		return storeErr(err, fmt.Sprintf("group %d", groupID))
	}
	if g.Status == domain.GroupDone {
		return conflict("group_immutable", "group %d is DONE and cannot be deleted", g.ID)
	}
	if err := e.Repo.DeleteGroupTx(ctx, tx, g.ID); err != nil {
		return storeErr(err, fmt.Sprintf("group %d", g.ID))
	}
	if err := e.eventLog().Append(ctx, tx, events.GroupDeleted, "group", g.ID, scope.StaffID, events.EventPayload{"status": g.Status}); err != nil {
		return err
	}
	return commit(tx)
}

// ListGroups lists groups by status. Empty status means PENDING, ALL lists
// every group.
func (e Engine) ListGroups(ctx context.Context, scope auth.Scope, status string) ([]domain.DeliveryGroup, error) {
	if err := scope.Require(domain.PermGroupsRead); err != nil {
		return nil, err
	}
	status = normalizeCode(status)
	switch status {
	case "":
		status = domain.GroupPending
	case "ALL":
		status = ""
	case domain.GroupPending, domain.GroupDone, domain.GroupFailed:
	default:
		return nil, invalid("validation_failed", "unknown group status %s", status)
	}
	return e.Repo.ListGroups(ctx, status)
}

// GetGroup returns a group with its items.
func (e Engine) GetGroup(ctx context.Context, scope auth.Scope, groupID int64) (domain.DeliveryGroup, error) {
	if err := scope.Require(domain.PermGroupsRead); err != nil {
		return domain.DeliveryGroup{}, err
	}
	g, err := e.Repo.GetGroup(ctx, groupID)
	if err != nil {
		return domain.DeliveryGroup{}, storeErr(err, fmt.Sprintf("group %d", groupID))
	}
	g.Items, err = e.Repo.GroupItems(ctx, groupID)
	if err != nil {
		return domain.DeliveryGroup{}, err
	}
	return g, nil
}

// ListDeliveries pages the delivery audit log.
func (e Engine) ListDeliveries(ctx context.Context, scope auth.Scope, limit, offset int) ([]domain.DeliveryRecord, error) {
	if err := scope.Require(domain.PermDeliveriesRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		return nil, invalid("validation_failed", "limit must be between 1 and 200")
	}
	if offset < 0 {
		return nil, invalid("validation_failed", "offset must not be negative")
	}
	return e.Repo.ListDeliveryRecords(ctx, limit, offset)
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Event types written by the engine.
const (
	GroupCreated       = "group.created"
	GroupItemAdded     = "group.item_added"
	GroupFulfilled     = "group.fulfilled"
	GroupFailed        = "group.failed"
	GroupDeleted       = "group.deleted"
	ProductionJob      = "production.job"
	InventoryProduced  = "inventory.produced"
	InventoryAdjusted  = "inventory.adjusted"
	FleetStatusUpdated = "fleet.status.updated"
	FleetHealthLogged  = "fleet.health.logged"
	RecipientCreated   = "recipient.created"
	RecipientUpdated   = "recipient.updated"
	RecipientDeleted   = "recipient.deleted"
	PreferenceAdded    = "recipient.preference_added"
	PreferenceRemoved  = "recipient.preference_removed"
	CodeCreated        = "code.created"
	CodeUpdated        = "code.updated"
	CodeDeleted        = "code.deleted"
	StaffCreated       = "staff.created"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row inside tx. actorID 0 records no actor.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind string, entityID, actorID int64, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullableID(entityID), nullableID(actorID), string(data))
	return err
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return strconv.FormatInt(v, 10)
}

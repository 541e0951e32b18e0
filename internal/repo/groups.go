package repo

import (
	"context"
	"database/sql"
	"errors"

	"giftline/internal/domain"
)

const groupSelect = `
SELECT g.id, g.name, g.fleet_unit_id, g.created_by, g.status, COALESCE(g.failure_reason,''), g.created_at, g.updated_at,
  (SELECT COUNT(*) FROM group_items gi WHERE gi.group_id=g.id)
FROM delivery_groups g`

func scanGroup(s interface{ Scan(...any) error }) (domain.DeliveryGroup, error) {
	var g domain.DeliveryGroup
	var createdBy sql.NullInt64
	err := s.Scan(&g.ID, &g.Name, &g.FleetUnitID, &createdBy, &g.Status, &g.FailureReason, &g.CreatedAt, &g.UpdatedAt, &g.ItemCount)
	g.CreatedBy = idPtr(createdBy)
	return g, err
}

func (r Repo) InsertGroupTx(ctx context.Context, tx *sql.Tx, g domain.DeliveryGroup) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO delivery_groups(name,fleet_unit_id,created_by,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		g.Name, g.FleetUnitID, nullableID(g.CreatedBy), g.Status, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

func (r Repo) GetGroup(ctx context.Context, id int64) (domain.DeliveryGroup, error) {
	return r.GetGroupTx(ctx, nil, id)
}

func (r Repo) GetGroupTx(ctx context.Context, tx *sql.Tx, id int64) (domain.DeliveryGroup, error) {
	g, err := scanGroup(r.on(tx).QueryRowContext(ctx, groupSelect+` WHERE g.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrNotFound
	}
	return g, err
}

// ListGroups returns groups in a status, newest first. Empty status lists all.
func (r Repo) ListGroups(ctx context.Context, status string) ([]domain.DeliveryGroup, error) {
	query := groupSelect
	var args []any
	if status != "" {
		query += ` WHERE g.status=?`
		args = append(args, status)
	}
	query += ` ORDER BY g.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DeliveryGroup{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) GroupItems(ctx context.Context, groupID int64) ([]domain.GroupItem, error) {
	return r.GroupItemsTx(ctx, nil, groupID)
}

func (r Repo) GroupItemsTx(ctx context.Context, tx *sql.Tx, groupID int64) ([]domain.GroupItem, error) {
	rows, err := r.on(tx).QueryContext(ctx, `
SELECT gi.id, gi.group_id, gi.recipient_id, COALESCE(rc.name,''), gi.gift_id, COALESCE(g.name,''), gi.active
FROM group_items gi
LEFT JOIN recipients rc ON rc.id=gi.recipient_id
LEFT JOIN gifts g ON g.id=gi.gift_id
WHERE gi.group_id=? ORDER BY gi.id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.GroupItem{}
	for rows.Next() {
		var it domain.GroupItem
		if err := rows.Scan(&it.ID, &it.GroupID, &it.RecipientID, &it.RecipientName, &it.GiftID, &it.GiftName, &it.Active); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// PendingGroupOfTx returns the pending group holding the recipient, if any.
func (r Repo) PendingGroupOfTx(ctx context.Context, tx *sql.Tx, recipientID int64) (int64, bool, error) {
	var groupID int64
	err := tx.QueryRowContext(ctx, `SELECT group_id FROM group_items WHERE recipient_id=? AND active=1`, recipientID).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return groupID, true, nil
}

func (r Repo) InGroupTx(ctx context.Context, tx *sql.Tx, groupID, recipientID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM group_items WHERE group_id=? AND recipient_id=?`, groupID, recipientID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertGroupItemTx(ctx context.Context, tx *sql.Tx, it domain.GroupItem) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO group_items(group_id,recipient_id,gift_id,active) VALUES (?,?,?,1)`,
		it.GroupID, it.RecipientID, it.GiftID)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

// CloseGroupTx moves a PENDING group to a terminal status and releases its
// recipients. It returns false when the group was no longer pending.
func (r Repo) CloseGroupTx(ctx context.Context, tx *sql.Tx, id int64, status, reason, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE delivery_groups SET status=?, failure_reason=?, updated_at=? WHERE id=? AND status=?`,
		status, nullable(reason), now, id, domain.GroupPending)
	if err != nil {
		return false, Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE group_items SET active=0 WHERE group_id=?`, id); err != nil {
		return false, Classify(err)
	}
	return true, nil
}

func (r Repo) DeleteGroupTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM delivery_groups WHERE id=?`, id)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

func (r Repo) InsertDeliveryRecordTx(ctx context.Context, tx *sql.Tx, rec domain.DeliveryRecord) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO delivery_records(recipient_id,gift_id,group_id,staff_id,delivered_at) VALUES (?,?,?,?,?)`,
		rec.RecipientID, rec.GiftID, nullableID(rec.GroupID), nullableID(rec.StaffID), rec.DeliveredAt)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

// ListDeliveryRecords pages the audit log, newest first.
func (r Repo) ListDeliveryRecords(ctx context.Context, limit, offset int) ([]domain.DeliveryRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT d.id, d.recipient_id, COALESCE(rc.name,''), d.gift_id, COALESCE(g.name,''), d.group_id, d.staff_id, d.delivered_at
FROM delivery_records d
LEFT JOIN recipients rc ON rc.id=d.recipient_id
LEFT JOIN gifts g ON g.id=d.gift_id
ORDER BY d.delivered_at DESC, d.id DESC
LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DeliveryRecord{}
	for rows.Next() {
		var d domain.DeliveryRecord
		var groupID, staffID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.RecipientID, &d.RecipientName, &d.GiftID, &d.GiftName, &groupID, &staffID, &d.DeliveredAt); err != nil {
			return nil, err
		}
		d.GroupID = idPtr(groupID)
		d.StaffID = idPtr(staffID)
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CountDeliveryRecordsTx(ctx context.Context, tx *sql.Tx, groupID int64) (int, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_records WHERE group_id=?`, groupID).Scan(&n)
	return n, err
}

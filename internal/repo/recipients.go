package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"giftline/internal/domain"
)

const recipientColumns = `id,name,address,region_id,eligibility,delivery_status,COALESCE(note,'')`

func scanRecipient(s interface{ Scan(...any) error }) (domain.Recipient, error) {
	var rc domain.Recipient
	err := s.Scan(&rc.ID, &rc.Name, &rc.Address, &rc.RegionID, &rc.Eligibility, &rc.DeliveryStatus, &rc.Note)
	return rc, err
}

// RecipientFilters narrow ListRecipients; zero values match everything.
type RecipientFilters struct {
	RegionID       int64
	Eligibility    string
	DeliveryStatus string
	// ExcludeDeliveryStatus drops recipients in this delivery status.
	ExcludeDeliveryStatus string
	Limit                 int
	Offset                int
}

func (r Repo) ListRecipients(ctx context.Context, f RecipientFilters) ([]domain.Recipient, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.RegionID > 0 {
		clauses = append(clauses, "region_id=?")
		args = append(args, f.RegionID)
	}
	if f.Eligibility != "" {
		clauses = append(clauses, "eligibility=?")
		args = append(args, f.Eligibility)
	}
	if f.DeliveryStatus != "" {
		clauses = append(clauses, "delivery_status=?")
		args = append(args, f.DeliveryStatus)
	}
	if f.ExcludeDeliveryStatus != "" {
		clauses = append(clauses, "delivery_status<>?")
		args = append(args, f.ExcludeDeliveryStatus)
	}
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Recipient{}
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rc)
	}
	return res, rows.Err()
}

func (r Repo) GetRecipient(ctx context.Context, id int64) (domain.Recipient, error) {
	return r.GetRecipientTx(ctx, nil, id)
}

func (r Repo) GetRecipientTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Recipient, error) {
	rc, err := scanRecipient(r.on(tx).QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rc, ErrNotFound
	}
	return rc, err
}

func (r Repo) InsertRecipientTx(ctx context.Context, tx *sql.Tx, rc domain.Recipient) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO recipients(name,address,region_id,eligibility,delivery_status,note) VALUES (?,?,?,?,?,?)`,
		rc.Name, rc.Address, rc.RegionID, rc.Eligibility, rc.DeliveryStatus, nullable(rc.Note))
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

// RecipientPatch holds the client-updatable fields; nil leaves a field as is.
type RecipientPatch struct {
	Name        *string
	Address     *string
	RegionID    *int64
	Eligibility *string
	Note        *string
}

func (r Repo) UpdateRecipientTx(ctx context.Context, tx *sql.Tx, id int64, p RecipientPatch) error {
	var (
		fields []string
		args   []any
	)
	if p.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *p.Name)
	}
	if p.Address != nil {
		fields = append(fields, "address=?")
		args = append(args, *p.Address)
	}
	if p.RegionID != nil {
		fields = append(fields, "region_id=?")
		args = append(args, *p.RegionID)
	}
	if p.Eligibility != nil {
		fields = append(fields, "eligibility=?")
		args = append(args, *p.Eligibility)
	}
	if p.Note != nil {
		fields = append(fields, "note=?")
		args = append(args, nullable(*p.Note))
	}
	if len(fields) == 0 {
		_, err := r.GetRecipientTx(ctx, tx, id)
		return err
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE recipients SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

func (r Repo) SetDeliveryStatusTx(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE recipients SET delivery_status=? WHERE id=?`, status, id)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

func (r Repo) DeleteRecipientTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE id=?`, id)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

// RecipientHistoryTx counts delivery records and DONE group memberships of a
// recipient.
func (r Repo) RecipientHistoryTx(ctx context.Context, tx *sql.Tx, id int64) (int, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM delivery_records WHERE recipient_id=?)
     + (SELECT COUNT(*) FROM group_items gi JOIN delivery_groups g ON g.id=gi.group_id
        WHERE gi.recipient_id=? AND g.status=?)`, id, id, domain.GroupDone).Scan(&n)
	return n, err
}

// DropOpenMembershipsTx removes a recipient from PENDING and FAILED groups.
func (r Repo) DropOpenMembershipsTx(ctx context.Context, tx *sql.Tx, id int64) (int, error) {
	res, err := tx.ExecContext(ctx, `
DELETE FROM group_items
WHERE recipient_id=? AND group_id IN (SELECT id FROM delivery_groups WHERE status<>?)`, id, domain.GroupDone)
	if err != nil {
		return 0, Classify(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r Repo) InsertPreferenceTx(ctx context.Context, tx *sql.Tx, p domain.Preference) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO preferences(recipient_id,gift_id,rank) VALUES (?,?,?)`, p.RecipientID, p.GiftID, p.Rank)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

func (r Repo) DeletePreferenceTx(ctx context.Context, tx *sql.Tx, recipientID, preferenceID int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE id=? AND recipient_id=?`, preferenceID, recipientID)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

// Preferences returns a recipient's ranked list, best rank first.
func (r Repo) Preferences(ctx context.Context, recipientID int64) ([]domain.Preference, error) {
	return r.PreferencesTx(ctx, nil, recipientID)
}

func (r Repo) PreferencesTx(ctx context.Context, tx *sql.Tx, recipientID int64) ([]domain.Preference, error) {
	rows, err := r.on(tx).QueryContext(ctx, `
SELECT p.id, p.recipient_id, p.gift_id, COALESCE(g.name,''), p.rank
FROM preferences p LEFT JOIN gifts g ON g.id=p.gift_id
WHERE p.recipient_id=? ORDER BY p.rank`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Preference{}
	for rows.Next() {
		var p domain.Preference
		if err := rows.Scan(&p.ID, &p.RecipientID, &p.GiftID, &p.GiftName, &p.Rank); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// InStockPreferences returns, for every NICE recipient still PENDING
// delivery, each preference whose gift has stock, ordered by recipient then
// rank.
func (r Repo) InStockPreferences(ctx context.Context, regionID int64) ([]domain.Assignment, error) {
	query := `
SELECT rc.id, rc.name, rc.region_id, p.gift_id, g.name, p.rank
FROM recipients rc
JOIN preferences p ON p.recipient_id=rc.id
JOIN gifts g ON g.id=p.gift_id
WHERE rc.eligibility=? AND rc.delivery_status=? AND g.stock>0`
	args := []any{domain.EligibilityNice, domain.DeliveryPending}
	if regionID > 0 {
		query += ` AND rc.region_id=?`
		args = append(args, regionID)
	}
	query += ` ORDER BY rc.id, p.rank`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.RecipientID, &a.RecipientName, &a.RegionID, &a.GiftID, &a.GiftName, &a.Rank); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// GiftDemand tallies preferences of recipients that are NICE and not yet
// delivered.
func (r Repo) GiftDemand(ctx context.Context) ([]domain.GiftDemand, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT g.id, g.name,
  COUNT(*) AS total,
  SUM(CASE WHEN p.rank=1 THEN 1 ELSE 0 END),
  SUM(CASE WHEN p.rank=2 THEN 1 ELSE 0 END),
  SUM(CASE WHEN p.rank=3 THEN 1 ELSE 0 END)
FROM preferences p
JOIN recipients rc ON rc.id=p.recipient_id
JOIN gifts g ON g.id=p.gift_id
WHERE rc.eligibility=? AND rc.delivery_status<>?
GROUP BY g.id, g.name
ORDER BY total DESC, g.id`, domain.EligibilityNice, domain.DeliveryDelivered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.GiftDemand{}
	for rows.Next() {
		var d domain.GiftDemand
		if err := rows.Scan(&d.GiftID, &d.GiftName, &d.Total, &d.Rank1, &d.Rank2, &d.Rank3); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

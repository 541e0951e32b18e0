package repo

import (
	"context"
	"database/sql"
	"errors"

	"giftline/internal/domain"
)

const ruleColumns = `id,title,description,created_by,updated_by,created_at,updated_at`

func scanRule(s interface{ Scan(...any) error }) (domain.Rule, error) {
	var rl domain.Rule
	var createdBy, updatedBy sql.NullInt64
	err := s.Scan(&rl.ID, &rl.Title, &rl.Description, &createdBy, &updatedBy, &rl.CreatedAt, &rl.UpdatedAt)
	rl.CreatedBy = idPtr(createdBy)
	rl.UpdatedBy = idPtr(updatedBy)
	return rl, err
}

func (r Repo) ListRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM eligibility_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Rule{}
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rl)
	}
	return res, rows.Err()
}

func (r Repo) GetRuleTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Rule, error) {
	rl, err := scanRule(r.on(tx).QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM eligibility_rules WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rl, ErrNotFound
	}
	return rl, err
}

func (r Repo) InsertRuleTx(ctx context.Context, tx *sql.Tx, rl domain.Rule) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO eligibility_rules(title,description,created_by,updated_by,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		rl.Title, rl.Description, nullableID(rl.CreatedBy), nullableID(rl.UpdatedBy), rl.CreatedAt, rl.UpdatedAt)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

func (r Repo) UpdateRuleTx(ctx context.Context, tx *sql.Tx, rl domain.Rule) error {
	res, err := tx.ExecContext(ctx, `UPDATE eligibility_rules SET title=?, description=?, updated_by=?, updated_at=? WHERE id=?`,
		rl.Title, rl.Description, nullableID(rl.UpdatedBy), rl.UpdatedAt, rl.ID)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

func (r Repo) DeleteRuleTx(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM eligibility_rules WHERE id=?`, id)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

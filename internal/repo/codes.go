package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"giftline/internal/domain"
)

// CodeTable names one of the two status code catalogs.
type CodeTable string

const (
	EligibilityCodes    CodeTable = "eligibility_codes"
	DeliveryStatusCodes CodeTable = "delivery_status_codes"
)

// RecipientColumn is the recipients column referencing the table.
func (t CodeTable) RecipientColumn() string {
	if t == DeliveryStatusCodes {
		return "delivery_status"
	}
	return "eligibility"
}

func (t CodeTable) valid() error {
	if t != EligibilityCodes && t != DeliveryStatusCodes {
		return fmt.Errorf("unknown code table %q", string(t))
	}
	return nil
}

func (r Repo) ListCodes(ctx context.Context, t CodeTable) ([]domain.StatusCode, error) {
	if err := t.valid(); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT code,description FROM `+string(t)+` ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StatusCode{}
	for rows.Next() {
		var c domain.StatusCode
		if err := rows.Scan(&c.Code, &c.Description); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) GetCodeTx(ctx context.Context, tx *sql.Tx, t CodeTable, code string) (domain.StatusCode, error) {
	var c domain.StatusCode
	if err := t.valid(); err != nil {
		return c, err
	}
	err := r.on(tx).QueryRowContext(ctx, `SELECT code,description FROM `+string(t)+` WHERE code=?`, code).Scan(&c.Code, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertCodeTx(ctx context.Context, tx *sql.Tx, t CodeTable, c domain.StatusCode) error {
	if err := t.valid(); err != nil {
		return err
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO `+string(t)+`(code,description) VALUES (?,?)`, c.Code, c.Description)
	return Classify(err)
}

func (r Repo) UpdateCodeTx(ctx context.Context, tx *sql.Tx, t CodeTable, c domain.StatusCode) error {
	if err := t.valid(); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE `+string(t)+` SET description=? WHERE code=?`, c.Description, c.Code)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

// CodeInUseTx counts recipients referencing the code.
func (r Repo) CodeInUseTx(ctx context.Context, tx *sql.Tx, t CodeTable, code string) (int, error) {
	if err := t.valid(); err != nil {
		return 0, err
	}
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients WHERE `+t.RecipientColumn()+`=?`, code).Scan(&n)
	return n, err
}

func (r Repo) DeleteCodeTx(ctx context.Context, tx *sql.Tx, t CodeTable, code string) error {
	if err := t.valid(); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM `+string(t)+` WHERE code=?`, code)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

func (r Repo) ListRegions(ctx context.Context) ([]domain.Region, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM regions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Region{}
	for rows.Next() {
		var rg domain.Region
		if err := rows.Scan(&rg.ID, &rg.Name); err != nil {
			return nil, err
		}
		res = append(res, rg)
	}
	return res, rows.Err()
}

func (r Repo) RegionExistsTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT 1 FROM regions WHERE id=?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertRegionTx(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO regions(name) VALUES (?)`, name)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

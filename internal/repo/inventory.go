package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"giftline/internal/domain"
)

func (r Repo) ListGifts(ctx context.Context) ([]domain.Gift, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,stock FROM gifts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Gift
	for rows.Next() {
		var g domain.Gift
		if err := rows.Scan(&g.ID, &g.Name, &g.Stock); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) GetGift(ctx context.Context, id int64) (domain.Gift, error) {
	return r.GetGiftTx(ctx, nil, id)
}

func (r Repo) GetGiftTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Gift, error) {
	var g domain.Gift
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,name,stock FROM gifts WHERE id=?`, id).Scan(&g.ID, &g.Name, &g.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrNotFound
	}
	return g, err
}

// GiftsByIDTx loads the gifts with the given ids; absent ids are missing from
// the result.
func (r Repo) GiftsByIDTx(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]domain.Gift, error) {
	res := map[int64]domain.Gift{}
	if len(ids) == 0 {
		return res, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,name,stock FROM gifts WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var g domain.Gift
		if err := rows.Scan(&g.ID, &g.Name, &g.Stock); err != nil {
			return nil, err
		}
		res[g.ID] = g
	}
	return res, rows.Err()
}

func (r Repo) InsertGiftTx(ctx context.Context, tx *sql.Tx, name string, stock int) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO gifts(name,stock) VALUES (?,?)`, name, stock)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

func (r Repo) AddGiftStockTx(ctx context.Context, tx *sql.Tx, id int64, qty int) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE gifts SET stock=stock+? WHERE id=?`, qty, id)
	if err != nil {
		return 0, Classify(err)
	}
	if err := exactlyOne(res); err != nil {
		return 0, err
	}
	var stock int
	if err := tx.QueryRowContext(ctx, `SELECT stock FROM gifts WHERE id=?`, id).Scan(&stock); err != nil {
		return 0, err
	}
	return stock, nil
}

// TakeGiftTx removes qty units, failing with ErrConstraint when fewer remain.
func (r Repo) TakeGiftTx(ctx context.Context, tx *sql.Tx, id int64, qty int) error {
	res, err := tx.ExecContext(ctx, `UPDATE gifts SET stock=stock-? WHERE id=? AND stock>=?`, qty, id, qty)
	if err != nil {
		return Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: gift %d stock below %d", ErrConstraint, id, qty)
	}
	return nil
}

func (r Repo) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,stock FROM materials ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Material
	for rows.Next() {
		var m domain.Material
		if err := rows.Scan(&m.ID, &m.Name, &m.Stock); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetMaterialTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Material, error) {
	var m domain.Material
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,name,stock FROM materials WHERE id=?`, id).Scan(&m.ID, &m.Name, &m.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) InsertMaterialTx(ctx context.Context, tx *sql.Tx, name string, stock int) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO materials(name,stock) VALUES (?,?)`, name, stock)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

// AdjustMaterialTx applies delta unless the result would go negative, in
// which case it returns ErrConstraint.
func (r Repo) AdjustMaterialTx(ctx context.Context, tx *sql.Tx, id int64, delta int) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE materials SET stock=stock+? WHERE id=? AND stock+?>=0`, delta, id, delta)
	if err != nil {
		return 0, Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if _, err := r.GetMaterialTx(ctx, tx, id); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: material %d would go negative", ErrConstraint, id)
	}
	var stock int
	if err := tx.QueryRowContext(ctx, `SELECT stock FROM materials WHERE id=?`, id).Scan(&stock); err != nil {
		return 0, err
	}
	return stock, nil
}

// RecipeTx returns the recipe lines for a gift joined with current material
// stock, keyed by material id.
func (r Repo) RecipeTx(ctx context.Context, tx *sql.Tx, giftID int64) ([]domain.RecipeLine, map[int64]int, error) {
	rows, err := r.on(tx).QueryContext(ctx, `
SELECT rl.gift_id, rl.material_id, COALESCE(m.name,''), rl.quantity, m.stock
FROM recipe_lines rl
LEFT JOIN materials m ON m.id=rl.material_id
WHERE rl.gift_id=?
ORDER BY rl.material_id`, giftID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var lines []domain.RecipeLine
	stock := map[int64]int{}
	for rows.Next() {
		var l domain.RecipeLine
		var s sql.NullInt64
		if err := rows.Scan(&l.GiftID, &l.MaterialID, &l.MaterialName, &l.Quantity, &s); err != nil {
			return nil, nil, err
		}
		lines = append(lines, l)
		if s.Valid {
			stock[l.MaterialID] = int(s.Int64)
		}
	}
	return lines, stock, rows.Err()
}

func (r Repo) Recipe(ctx context.Context, giftID int64) ([]domain.RecipeLine, error) {
	lines, _, err := r.RecipeTx(ctx, nil, giftID)
	return lines, err
}

func (r Repo) InsertRecipeLineTx(ctx context.Context, tx *sql.Tx, l domain.RecipeLine) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO recipe_lines(gift_id,material_id,quantity) VALUES (?,?,?)`, l.GiftID, l.MaterialID, l.Quantity)
	return Classify(err)
}

// InsertProductionJobTx records a job and its usage rows.
func (r Repo) InsertProductionJobTx(ctx context.Context, tx *sql.Tx, job domain.ProductionJob) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO production_jobs(gift_id,quantity,staff_id,created_at) VALUES (?,?,?,?)`,
		job.GiftID, job.Quantity, nullableID(job.StaffID), job.CreatedAt)
	if err != nil {
		return 0, Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, u := range job.Usage {
		if _, err := tx.ExecContext(ctx, `INSERT INTO production_usage(job_id,material_id,quantity_used) VALUES (?,?,?)`,
			id, u.MaterialID, u.QuantityUsed); err != nil {
			return 0, Classify(err)
		}
	}
	return id, nil
}

// ListProductionJobs returns jobs newest first with their usage.
func (r Repo) ListProductionJobs(ctx context.Context, limit int) ([]domain.ProductionJob, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT j.id, j.gift_id, COALESCE(g.name,''), j.quantity, j.staff_id, j.created_at
FROM production_jobs j LEFT JOIN gifts g ON g.id=j.gift_id
ORDER BY j.created_at DESC, j.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var jobs []domain.ProductionJob
	index := map[int64]int{}
	for rows.Next() {
		var j domain.ProductionJob
		var staff sql.NullInt64
		if err := rows.Scan(&j.ID, &j.GiftID, &j.GiftName, &j.Quantity, &staff, &j.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		j.StaffID = idPtr(staff)
		j.Usage = []domain.ProductionUsage{}
		index[j.ID] = len(jobs)
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return jobs, nil
	}
	args := make([]any, 0, len(jobs))
	for _, j := range jobs {
		args = append(args, j.ID)
	}
	urows, err := r.DB.QueryContext(ctx, `
SELECT u.job_id, u.material_id, COALESCE(m.name,''), u.quantity_used
FROM production_usage u LEFT JOIN materials m ON m.id=u.material_id
WHERE u.job_id IN (`+placeholders(len(args))+`) ORDER BY u.material_id`, args...)
	if err != nil {
		return nil, err
	}
	defer urows.Close()
	for urows.Next() {
		var jobID int64
		var u domain.ProductionUsage
		if err := urows.Scan(&jobID, &u.MaterialID, &u.MaterialName, &u.QuantityUsed); err != nil {
			return nil, err
		}
		i := index[jobID]
		jobs[i].Usage = append(jobs[i].Usage, u)
	}
	return jobs, urows.Err()
}

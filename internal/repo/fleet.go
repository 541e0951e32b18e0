package repo

import (
	"context"
	"database/sql"
	"errors"

	"giftline/internal/domain"
)

const fleetColumns = `id,name,stamina,magic,status`

func scanUnit(s interface{ Scan(...any) error }) (domain.FleetUnit, error) {
	var u domain.FleetUnit
	err := s.Scan(&u.ID, &u.Name, &u.Stamina, &u.Magic, &u.Status)
	return u, err
}

func (r Repo) ListFleet(ctx context.Context) ([]domain.FleetUnit, error) {
	return r.queryUnits(ctx, `SELECT `+fleetColumns+` FROM fleet_units ORDER BY id`)
}

// ListAvailableFleet reads the ready view, narrowed by a magic floor.
func (r Repo) ListAvailableFleet(ctx context.Context, minMagic int) ([]domain.FleetUnit, error) {
	return r.queryUnits(ctx, `SELECT `+fleetColumns+` FROM ready_fleet_view WHERE magic>=? ORDER BY id`, minMagic)
}

func (r Repo) queryUnits(ctx context.Context, query string, args ...any) ([]domain.FleetUnit, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FleetUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) GetFleetUnit(ctx context.Context, id int64) (domain.FleetUnit, error) {
	return r.GetFleetUnitTx(ctx, nil, id)
}

func (r Repo) GetFleetUnitTx(ctx context.Context, tx *sql.Tx, id int64) (domain.FleetUnit, error) {
	u, err := scanUnit(r.on(tx).QueryRowContext(ctx, `SELECT `+fleetColumns+` FROM fleet_units WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertFleetUnitTx(ctx context.Context, tx *sql.Tx, u domain.FleetUnit) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO fleet_units(name,stamina,magic,status) VALUES (?,?,?,?)`,
		u.Name, u.Stamina, u.Magic, u.Status)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

func (r Repo) SetFleetStateTx(ctx context.Context, tx *sql.Tx, u domain.FleetUnit) error {
	res, err := tx.ExecContext(ctx, `UPDATE fleet_units SET status=?, stamina=?, magic=? WHERE id=?`,
		u.Status, u.Stamina, u.Magic, u.ID)
	if err != nil {
		return Classify(err)
	}
	return exactlyOne(res)
}

// DispatchFleetUnitTx charges one delivery run to a unit that still meets
// the fulfillment thresholds. It returns false when the unit changed since
// it was read.
func (r Repo) DispatchFleetUnitTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE fleet_units
SET stamina=stamina-?, magic=magic-?, status=?
WHERE id=? AND status=? AND stamina>=? AND magic>=?`,
		domain.DeliveryStaminaCost, domain.DeliveryMagicCost, domain.UnitOnDelivery,
		id, domain.UnitReady, domain.FulfillMinStamina, domain.FulfillMinMagic)
	if err != nil {
		return false, Classify(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) InsertHealthLogTx(ctx context.Context, tx *sql.Tx, l domain.HealthLog) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO fleet_health_logs(unit_id,note,created_at) VALUES (?,?,?)`, l.UnitID, l.Note, l.CreatedAt)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

func (r Repo) ListHealthLogs(ctx context.Context, unitID int64) ([]domain.HealthLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,unit_id,note,created_at FROM fleet_health_logs WHERE unit_id=? ORDER BY created_at DESC, id DESC`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.HealthLog{}
	for rows.Next() {
		var l domain.HealthLog
		if err := rows.Scan(&l.ID, &l.UnitID, &l.Note, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"giftline/internal/domain"
)

// StaffCredentials pairs a staff row with its stored password hash.
type StaffCredentials struct {
	domain.Staff
	PasswordHash string
}

// InsertStaffTx stores a staff account. PasswordHash must already be hashed.
func (r Repo) InsertStaffTx(ctx context.Context, tx *sql.Tx, s StaffCredentials) (int64, error) {
	if strings.TrimSpace(s.Username) == "" {
		return 0, errors.New("username required")
	}
	if s.PasswordHash == "" {
		return 0, errors.New("password hash required")
	}
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO staff(username,password_hash,name,role,created_at) VALUES (?,?,?,?,?)`,
		s.Username, s.PasswordHash, s.Name, s.Role, s.CreatedAt)
	if err != nil {
		return 0, Classify(err)
	}
	return res.LastInsertId()
}

func (r Repo) GetStaff(ctx context.Context, id int64) (domain.Staff, error) {
	var s domain.Staff
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,name,role,created_at FROM staff WHERE id=?`, id).
		Scan(&s.ID, &s.Username, &s.Name, &s.Role, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// StaffByUsername returns the account with its hash for credential checks.
func (r Repo) StaffByUsername(ctx context.Context, username string) (StaffCredentials, error) {
	var s StaffCredentials
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,password_hash,name,role,created_at FROM staff WHERE username=? LIMIT 1`,
		strings.TrimSpace(username)).Scan(&s.ID, &s.Username, &s.PasswordHash, &s.Name, &s.Role, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListStaff(ctx context.Context) ([]domain.Staff, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,username,name,role,created_at FROM staff ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Staff{}
	for rows.Next() {
		var s domain.Staff
		if err := rows.Scan(&s.ID, &s.Username, &s.Name, &s.Role, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) CountStaff(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff`).Scan(&n)
	return n, err
}

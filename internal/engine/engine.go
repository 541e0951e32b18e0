package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"giftline/internal/config"
	"giftline/internal/engine/auth"
	"giftline/internal/events"
	"giftline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Log    zerolog.Logger
	Now    func() time.Time
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func New(db *sql.DB, cfg *config.Config, log zerolog.Logger) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{},
		Auth:   auth.Service{Repo: r, Config: cfg},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) eventLog() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.Repo.Begin(ctx)
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	return tx, nil
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return storeErr(err, "commit")
	}
	return nil
}

// check runs struct tag validation on operation options.
func check(opts any) error {
	err := validate.Struct(opts)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := map[string]string{}
	var parts []string
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[name] = rule
		parts = append(parts, fmt.Sprintf("%s failed %s", name, rule))
	}
	return invalid("validation_failed", "invalid input: %s", strings.Join(parts, ", ")).with("fields", fields)
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

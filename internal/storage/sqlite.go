package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ---- accounts ----

const accountCols = `id, phone, app_id, app_hash, session, base_name, name_style, digit_style, twofa, active, gate_version`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Phone, &a.AppID, &a.AppHash, &a.Session,
		&a.BaseName, &a.NameStyle, &a.DigitStyle, &a.TwoFA, &a.Active, &a.GateVersion)
	return a, err
}

func (s *sqliteStore) GetAccount(ctx context.Context, id int64) (Account, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

func (s *sqliteStore) UpsertAccount(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   phone=excluded.phone, app_id=excluded.app_id, app_hash=excluded.app_hash,
		   session=excluded.session, base_name=excluded.base_name,
		   name_style=excluded.name_style, digit_style=excluded.digit_style,
		   twofa=excluded.twofa, active=excluded.active, gate_version=excluded.gate_version`,
		a.ID, a.Phone, a.AppID, a.AppHash, a.Session, a.BaseName,
		a.NameStyle, a.DigitStyle, a.TwoFA, a.Active, a.GateVersion)
	return err
}

func (s *sqliteStore) SetAccountActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET active = ? WHERE id = ?`, active, id)
	return err
}

func (s *sqliteStore) SetGateVersion(ctx context.Context, id int64, version int64) error {
	// Upsert: a user may pass the gate before ever onboarding an account.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, active, gate_version) VALUES (?, 0, ?)
		 ON CONFLICT(id) DO UPDATE SET gate_version=excluded.gate_version`,
		id, version)
	return err
}

func (s *sqliteStore) ListActiveConfigured(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM accounts
		 WHERE active = 1 AND session <> '' AND app_id <> 0 AND app_hash <> ''
		   AND base_name <> '' AND digit_style >= 0
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	return n, err
}

// ---- apps ----

func (s *sqliteStore) ListApps(ctx context.Context) ([]App, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT app_id, app_hash, active FROM apps ORDER BY app_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []App
	for rows.Next() {
		var a App
		if err := rows.Scan(&a.ID, &a.Hash, &a.Active); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertApp(ctx context.Context, a App) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO apps (app_id, app_hash, active) VALUES (?,?,?)
		 ON CONFLICT(app_id) DO UPDATE SET app_hash=excluded.app_hash, active=excluded.active`,
		a.ID, a.Hash, a.Active)
	return err
}

func (s *sqliteStore) CountAccountsByApp(ctx context.Context, appID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE app_id = ?`, appID).Scan(&n)
	return n, err
}

// ---- channels ----

func (s *sqliteStore) ListChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM channels ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddChannel(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO channels (name) VALUES (?) ON CONFLICT DO NOTHING`, name)
	return err
}

func (s *sqliteStore) RemoveChannel(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE name = ?`, name)
	return err
}

// ---- settings ----

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

func (s *sqliteStore) GateVersion(ctx context.Context) (int64, error) {
	v, err := s.GetSetting(ctx, SettingGateVersion)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *sqliteStore) IncrementGateVersion(ctx context.Context) (int64, error) {
	// Single statement so concurrent bumps serialize inside SQLite instead of
	// racing a read-modify-write in Go.
	var raw string
	err := s.db.QueryRowContext(ctx,
		`UPDATE settings SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
		 WHERE key = ? RETURNING value`, SettingGateVersion).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.SetSetting(ctx, SettingGateVersion, "1"); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

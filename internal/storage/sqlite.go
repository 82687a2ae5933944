//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/simcoreservers/nutetra/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain time.Duration
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY churn on the append path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	retain := cfg.RetainReadings
	if retain <= 0 {
		retain = 30 * 24 * time.Hour
	}

	s := &sqliteStore{db: db, log: log, retain: retain}
	if err := s.pruneReadings(context.Background()); err != nil {
		log.Warn("reading prune failed", logx.Err(err))
	}
	return s, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AppendDose(ctx context.Context, row DoseRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO doses (at, pump, amount_ml, reason, current_value, target_value, product)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.At.UTC().Format(time.RFC3339Nano), row.PumpID, row.AmountMl,
		row.Reason, row.CurrentValue, row.TargetValue, row.Product)
	return err
}

func (s *sqliteStore) AppendReading(ctx context.Context, row ReadingRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (at, ph, ec, water_temp, ph_substituted, ec_substituted)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.At.UTC().Format(time.RFC3339Nano), row.PH, row.EC, row.WaterTemp,
		boolInt(row.PHSubstituted), boolInt(row.ECSubstituted))
	if err != nil {
		return err
	}
	return s.pruneReadings(ctx)
}

func (s *sqliteStore) RecentDoses(ctx context.Context, limit int) ([]DoseRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, pump, amount_ml, reason, current_value, target_value, product
		 FROM doses ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DoseRow
	for rows.Next() {
		var (
			row DoseRow
			at  string
		)
		if err := rows.Scan(&at, &row.PumpID, &row.AmountMl, &row.Reason,
			&row.CurrentValue, &row.TargetValue, &row.Product); err != nil {
			return nil, err
		}
		row.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse dose timestamp %q: %w", at, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneReadings(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retain).UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE at < ?`, cutoff)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

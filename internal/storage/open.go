package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/simcoreservers/nutetra/pkg/logx"
)

// Store is the durable mirror of the controller's telemetry ledgers.
// It is write-mostly: the engine's in-memory ledgers serve live reads,
// the store serves history that must survive restarts.
type Store interface {
	AppendDose(ctx context.Context, row DoseRow) error
	AppendReading(ctx context.Context, row ReadingRow) error
	RecentDoses(ctx context.Context, limit int) ([]DoseRow, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

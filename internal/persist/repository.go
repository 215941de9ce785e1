package persist

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/store"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db  *sql.DB
	cfg Config
}

// No-op implementation
type noopRepository struct{}

// NewRepository opens the snapshot database. When persistence is disabled a
// no-op repository is returned so callers never branch on the setting.
func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Snapshot persistence disabled, using no-op repository")
		return &noopRepository{}, nil
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Snapshot repository initialized")

	return &repository{
		db:  db,
		cfg: cfg,
	}, nil
}

// Load reads the last persisted snapshot. An empty database yields an empty
// snapshot, not an error.
func (r *repository) Load() (store.Snapshot, error) {
	errFactory := errors.New()

	rows, err := r.db.Query(selectClientsSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	snap := make(store.Snapshot)
	for rows.Next() {
		var (
			clientID   string
			lastSeen   int64
			rawMetrics string
		)
		if err := rows.Scan(&clientID, &lastSeen, &rawMetrics); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}

		metrics := make(map[string]*store.MetricAggregate)
		if err := json.Unmarshal([]byte(rawMetrics), &metrics); err != nil {
			return nil, errFactory.WithData(ErrInvalidSnapshot, struct {
				ClientID string
				Error    string
			}{
				ClientID: clientID,
				Error:    err.Error(),
			})
		}

		snap[clientID] = &store.ClientRecord{
			ClientID: clientID,
			LastSeen: lastSeen,
			Metrics:  metrics,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return snap, nil
}

// Save replaces the persisted snapshot with the given one in a single
// transaction.
func (r *repository) Save(snap store.Snapshot) error {
	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(`DELETE FROM clients`); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertClientSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for clientID, rec := range snap {
		rawMetrics, err := json.Marshal(rec.Metrics)
		if err != nil {
			return errFactory.Wrap(ErrInvalidSnapshot, err)
		}
		if _, err := stmt.Exec(clientID, rec.LastSeen, string(rawMetrics)); err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	logger.Debug().Int("clients", len(snap)).Msg("Flushed snapshot to database")

	return nil
}

func (r *repository) Close() error {
	errFactory := errors.New()

	// Checkpoint WAL on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	logger.Info().Msg("Snapshot repository closed gracefully")

	return nil
}

// No-op implementation
func (*noopRepository) Load() (store.Snapshot, error) {
	return store.Snapshot{}, nil
}

func (*noopRepository) Save(_ store.Snapshot) error {
	return nil
}

func (*noopRepository) Close() error {
	return nil
}

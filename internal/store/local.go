package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"dailydrive/internal/model"
)

// Session-type flag values persisted in app_state under "mode".
const (
	ModeOffline = "offline"
	ModeOnline  = "online"
)

const (
	modeKey     = "mode"
	deviceIDKey = "device_id"
)

const schema = `
CREATE TABLE IF NOT EXISTS month_data (
    year    INTEGER NOT NULL,
    month   INTEGER NOT NULL,
    payload TEXT    NOT NULL,
    PRIMARY KEY (year, month)
);
CREATE TABLE IF NOT EXISTS app_state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Local is the on-device durable store: one JSON-serialized MonthDataset per
// (year, month), plus a small key-value table for session state.
type Local struct {
	db       *sql.DB
	deviceID string
	logger   *zap.Logger
}

func OpenLocal(path string, logger *zap.Logger) (*Local, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing local schema: %w", err)
	}

	l := &Local{db: db, logger: logger}

	// A stable per-device id, generated on first open. It tags remote
	// writes so this device can recognize its own change events.
	id, err := l.state(deviceIDKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
		if err := l.setState(deviceIDKey, id); err != nil {
			db.Close()
			return nil, err
		}
	}
	l.deviceID = id

	return l, nil
}

func (l *Local) Close() error {
	return l.db.Close()
}

// DeviceID returns the stable id of this device.
func (l *Local) DeviceID() string {
	return l.deviceID
}

// LoadMonth reads the dataset for (year, month). A missing or malformed row
// is treated as "no prior data" and returns (nil, nil), never an error.
func (l *Local) LoadMonth(year, month int) (*model.MonthDataset, error) {
	var payload string
	err := l.db.QueryRow(
		`SELECT payload FROM month_data WHERE year = ? AND month = ?`,
		year, month,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading month %d-%02d: %w", year, month, err)
	}

	var ds model.MonthDataset
	if err := json.Unmarshal([]byte(payload), &ds); err != nil {
		l.logger.Warn("Discarding malformed local dataset",
			zap.Int("year", year),
			zap.Int("month", month),
			zap.Error(err),
		)
		return nil, nil
	}
	return &ds, nil
}

// SaveMonth fully overwrites the stored dataset for (year, month).
func (l *Local) SaveMonth(year, month int, ds *model.MonthDataset) error {
	payload, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	_, err = l.db.Exec(
		`INSERT INTO month_data (year, month, payload) VALUES (?, ?, ?)
		 ON CONFLICT (year, month) DO UPDATE SET payload = excluded.payload`,
		year, month, string(payload),
	)
	if err != nil {
		return fmt.Errorf("saving month %d-%02d: %w", year, month, err)
	}
	return nil
}

// ResetMonth deletes the stored dataset for (year, month).
func (l *Local) ResetMonth(year, month int) error {
	_, err := l.db.Exec(`DELETE FROM month_data WHERE year = ? AND month = ?`, year, month)
	if err != nil {
		return fmt.Errorf("resetting month %d-%02d: %w", year, month, err)
	}
	return nil
}

// Mode returns the persisted session-type flag, or "" when none is set.
func (l *Local) Mode() (string, error) {
	return l.state(modeKey)
}

func (l *Local) SetMode(mode string) error {
	return l.setState(modeKey, mode)
}

func (l *Local) ClearMode() error {
	_, err := l.db.Exec(`DELETE FROM app_state WHERE key = ?`, modeKey)
	if err != nil {
		return fmt.Errorf("clearing mode: %w", err)
	}
	return nil
}

func (l *Local) state(key string) (string, error) {
	var value string
	err := l.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading app state %q: %w", key, err)
	}
	return value, nil
}

func (l *Local) setState(key, value string) error {
	_, err := l.db.Exec(
		`INSERT INTO app_state (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing app state %q: %w", key, err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"keymint/internal/license"
)

// SQLiteStore implements Store on a local SQLite database using the
// pure-Go modernc.org/sqlite driver. The schema is created on open
// and carries UNIQUE constraints on license_key and order_id, which
// back the idempotent-issuance and key-collision guarantees.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created as needed. WAL mode is enabled for
// concurrent readers.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "store"))

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store initialized", slog.String("path", path))
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS licenses (
			id TEXT PRIMARY KEY,
			license_key TEXT NOT NULL UNIQUE,
			order_id TEXT NOT NULL UNIQUE,
			customer_email TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			product_name TEXT NOT NULL,
			device_limit INTEGER NOT NULL DEFAULT 1,
			activated_devices TEXT NOT NULL DEFAULT '[]',
			activation_count INTEGER NOT NULL DEFAULT 0,
			is_activated INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			activated_at DATETIME,
			created_at DATETIME NOT NULL,
			expiry_date DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_licenses_order_id
			ON licenses(order_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const licenseColumns = `id, license_key, order_id, customer_email, customer_name,
	product_name, device_limit, activated_devices, activation_count,
	is_activated, is_active, activated_at, created_at, expiry_date, version`

// Insert persists a new license record. Returns ErrDuplicateKey or
// ErrDuplicateOrder on the respective UNIQUE constraint violations.
func (s *SQLiteStore) Insert(ctx context.Context, lic *license.License) error {
	devices, err := encodeDevices(lic.Devices)
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}

	query := `
		INSERT INTO licenses (` + licenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		lic.ID,
		lic.Key,
		lic.OrderID,
		lic.CustomerEmail,
		lic.CustomerName,
		lic.ProductName,
		lic.DeviceLimit,
		devices,
		lic.ActivationCount,
		boolToInt(lic.IsActivated),
		boolToInt(lic.IsActive),
		formatNullableTime(lic.ActivatedAt),
		lic.CreatedAt.UTC().Format(time.RFC3339),
		lic.ExpiryDate.UTC().Format(time.RFC3339),
		lic.Version,
	)
	if err != nil {
		if dupErr := classifyConstraint(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("inserting license: %w", err)
	}

	s.logger.Debug("license inserted",
		slog.String("order_id", lic.OrderID))
	return nil
}

// classifyConstraint maps a SQLite UNIQUE violation onto the matching
// sentinel, or returns nil if err is not a constraint violation.
func classifyConstraint(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "constraint failed") {
		return nil
	}
	if strings.Contains(msg, "licenses.order_id") {
		return ErrDuplicateOrder
	}
	if strings.Contains(msg, "licenses.license_key") {
		return ErrDuplicateKey
	}
	return ErrDuplicateKey
}

// GetByKey retrieves a license by its key. Returns ErrNotFound when no
// record matches.
func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = ?`
	return s.scanLicense(s.db.QueryRowContext(ctx, query, key))
}

// GetByOrder retrieves a license by order id. Returns ErrNotFound when
// no record matches.
func (s *SQLiteStore) GetByOrder(ctx context.Context, orderID string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE order_id = ?`
	return s.scanLicense(s.db.QueryRowContext(ctx, query, orderID))
}

// Update writes the mutable fields of a license, guarded by the
// version the caller read. RowsAffected of zero means another writer
// got there first and the caller must re-read and retry.
func (s *SQLiteStore) Update(ctx context.Context, lic *license.License) error {
	devices, err := encodeDevices(lic.Devices)
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}

	query := `
		UPDATE licenses
		SET activated_devices = ?,
			activation_count = ?,
			is_activated = ?,
			is_active = ?,
			activated_at = ?,
			device_limit = ?,
			version = version + 1
		WHERE license_key = ? AND version = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		devices,
		lic.ActivationCount,
		boolToInt(lic.IsActivated),
		boolToInt(lic.IsActive),
		formatNullableTime(lic.ActivatedAt),
		lic.DeviceLimit,
		lic.Key,
		lic.Version,
	)
	if err != nil {
		return fmt.Errorf("updating license: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		// Either the record vanished or the version moved on.
		if _, getErr := s.GetByKey(ctx, lic.Key); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}

	lic.Version++
	return nil
}

func (s *SQLiteStore) scanLicense(row *sql.Row) (*license.License, error) {
	var (
		lic         license.License
		devices     string
		isActivated int
		isActive    int
		activatedAt sql.NullString
		createdAt   string
		expiryDate  string
	)

	err := row.Scan(
		&lic.ID,
		&lic.Key,
		&lic.OrderID,
		&lic.CustomerEmail,
		&lic.CustomerName,
		&lic.ProductName,
		&lic.DeviceLimit,
		&devices,
		&lic.ActivationCount,
		&isActivated,
		&isActive,
		&activatedAt,
		&createdAt,
		&expiryDate,
		&lic.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying license: %w", err)
	}

	lic.IsActivated = isActivated != 0
	lic.IsActive = isActive != 0
	lic.Devices = decodeDevices(devices)

	if lic.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lic.ExpiryDate, err = time.Parse(time.RFC3339, expiryDate); err != nil {
		return nil, fmt.Errorf("parsing expiry_date: %w", err)
	}
	if activatedAt.Valid && activatedAt.String != "" {
		at, err := time.Parse(time.RFC3339, activatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing activated_at: %w", err)
		}
		lic.ActivatedAt = &at
	}

	return &lic, nil
}

// encodeDevices stores the device set as a sorted JSON array.
func encodeDevices(devices license.DeviceSet) (string, error) {
	if devices == nil {
		return "[]", nil
	}
	data, err := json.Marshal(devices)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeDevices accepts the JSON-array encoding and, for records
// written by the pre-Go implementation, a comma-delimited string.
func decodeDevices(raw string) license.DeviceSet {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return license.NewDeviceSet()
	}
	if strings.HasPrefix(raw, "[") {
		var s license.DeviceSet
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}
	return license.NewDeviceSet(strings.Split(raw, ",")...)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

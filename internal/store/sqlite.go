package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// SQLiteStore persists assets in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
	// writes are serialised; last committed wins
	mu sync.Mutex
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := filepath.Clean(dbPath) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: sqlite has a single writer anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS assets (
			key TEXT NOT NULL,
			position INTEGER NOT NULL,
			payload BLOB NOT NULL,
			mime_type TEXT NOT NULL,
			original_name TEXT NOT NULL,
			PRIMARY KEY (key, position)
		);`,
		`CREATE TABLE IF NOT EXISTS flags (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("unsupported schema version %d (want %d)", version, schemaVersion)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Asset Implementation

func (s *SQLiteStore) Put(ctx context.Context, key AssetKey, rec AssetRecord) error {
	if err := checkRecordKey(key); err != nil {
		return err
	}
	return ioError("put", key, s.replace(ctx, key, []AssetRecord{rec}))
}

func (s *SQLiteStore) PutMany(ctx context.Context, key AssetKey, recs []AssetRecord) error {
	if err := checkCollectionKey(key); err != nil {
		return err
	}
	return ioError("put many", key, s.replace(ctx, key, recs))
}

// replace swaps every row under key inside one transaction.
func (s *SQLiteStore) replace(ctx context.Context, key AssetKey, recs []AssetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE key = ?`, string(key)); err != nil {
		return err
	}
	for i, rec := range recs {
		payload := rec.Payload
		if payload == nil {
			payload = []byte{}
		}
		query := `INSERT INTO assets (key, position, payload, mime_type, original_name) VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, string(key), i, payload, rec.MimeType, rec.OriginalName); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, key AssetKey) (AssetRecord, bool, error) {
	if err := checkRecordKey(key); err != nil {
		return AssetRecord{}, false, err
	}
	query := `SELECT payload, mime_type, original_name FROM assets WHERE key = ? AND position = 0`
	var rec AssetRecord
	err := s.db.QueryRowContext(ctx, query, string(key)).Scan(&rec.Payload, &rec.MimeType, &rec.OriginalName)
	if errors.Is(err, sql.ErrNoRows) {
		return AssetRecord{}, false, nil
	}
	if err != nil {
		return AssetRecord{}, false, ioError("get", key, err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) GetCollection(ctx context.Context, key AssetKey) ([]AssetRecord, error) {
	if err := checkCollectionKey(key); err != nil {
		return nil, err
	}
	query := `SELECT payload, mime_type, original_name FROM assets WHERE key = ? ORDER BY position`
	rows, err := s.db.QueryContext(ctx, query, string(key))
	if err != nil {
		return nil, ioError("get collection", key, err)
	}
	defer rows.Close()

	recs := []AssetRecord{}
	for rows.Next() {
		var rec AssetRecord
		if err := rows.Scan(&rec.Payload, &rec.MimeType, &rec.OriginalName); err != nil {
			return nil, ioError("get collection", key, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ioError("get collection", key, err)
	}
	return recs, nil
}

func (s *SQLiteStore) MarkReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO flags (key, value) VALUES (?, 1) ON CONFLICT(key) DO UPDATE SET value = 1`
	_, err := s.db.ExecContext(ctx, query, string(UploadedFlag))
	return ioError("mark ready", UploadedFlag, err)
}

func (s *SQLiteStore) IsReady(ctx context.Context) (bool, error) {
	var value int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = ?`, string(UploadedFlag)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ioError("is ready", UploadedFlag, err)
	}
	return value == 1, nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]AssetKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT key FROM assets`)
	if err != nil {
		return nil, ioError("keys", "", err)
	}
	defer rows.Close()

	present := map[AssetKey]bool{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, ioError("keys", "", err)
		}
		present[AssetKey(k)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, ioError("keys", "", err)
	}
	ready, err := s.IsReady(ctx)
	if err != nil {
		return nil, err
	}
	present[UploadedFlag] = ready

	return orderedKeys(present), nil
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	row := s.db.QueryRow(query, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func orderedKeys(present map[AssetKey]bool) []AssetKey {
	var keys []AssetKey
	for _, k := range Keys {
		if present[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

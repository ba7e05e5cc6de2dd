package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/ccindex/framework/index"
)

// ErrNotCached is returned when no usable index is stored for a path.
var ErrNotCached = errors.New("index not cached")

// CachedFile summarizes one stored index without decoding it.
type CachedFile struct {
	Path        string
	ContentHash string
	Generation  uint64
	IndexedAt   time.Time
}

// CacheStore keeps the last serialized index of every translation unit in
// a SQLite database so a restarted server can diff against it.
type CacheStore struct {
	db *sql.DB
}

// NewCacheStore opens or creates the cache at dbPath. ":memory:" gives a
// private in-memory cache.
func NewCacheStore(dbPath string) (*CacheStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared by all callers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	store := &CacheStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *CacheStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexed_files (
		path TEXT PRIMARY KEY,
		content_hash TEXT,
		generation INTEGER NOT NULL DEFAULT 0,
		format_version INTEGER NOT NULL,
		indexed_at TIMESTAMP,
		data BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *CacheStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the index of f.Path.
func (s *CacheStore) Save(f *index.File) error {
	if f == nil || f.Path == "" {
		return errors.New("indexed file with a path required")
	}
	data, err := index.Serialize(f, index.SerializeOptions{})
	if err != nil {
		return fmt.Errorf("serialize %s: %w", f.Path, err)
	}
	query := `
	INSERT INTO indexed_files (path, content_hash, generation, format_version, indexed_at, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		content_hash=excluded.content_hash,
		generation=excluded.generation,
		format_version=excluded.format_version,
		indexed_at=excluded.indexed_at,
		data=excluded.data
	`
	_, err = s.db.Exec(query, f.Path, f.ContentHash, int64(f.Generation), index.FormatVersion, time.Now().UTC(), data)
	return err
}

// Load returns the stored index of path. Entries written by another format
// version are reported as ErrNotCached.
func (s *CacheStore) Load(path string) (*index.File, error) {
	var (
		version int
		data    []byte
	)
	row := s.db.QueryRow(`SELECT format_version, data FROM indexed_files WHERE path = ?`, path)
	if err := row.Scan(&version, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotCached
		}
		return nil, err
	}
	if version != index.FormatVersion {
		return nil, ErrNotCached
	}
	f, err := index.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("decode cached %s: %w", path, err)
	}
	return f, nil
}

// Lookup returns the summary of path without decoding the index.
func (s *CacheStore) Lookup(path string) (*CachedFile, error) {
	row := s.db.QueryRow(`SELECT path, content_hash, generation, indexed_at FROM indexed_files WHERE path = ? AND format_version = ?`, path, index.FormatVersion)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	return entry, err
}

// List returns every stored entry ordered by path.
func (s *CacheStore) List() ([]*CachedFile, error) {
	rows, err := s.db.Query(`SELECT path, content_hash, generation, indexed_at FROM indexed_files WHERE format_version = ? ORDER BY path`, index.FormatVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CachedFile
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Delete forgets path. Deleting an absent path is not an error.
func (s *CacheStore) Delete(path string) error {
	_, err := s.db.Exec(`DELETE FROM indexed_files WHERE path = ?`, path)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*CachedFile, error) {
	var (
		entry      CachedFile
		hash       sql.NullString
		generation int64
		indexedAt  sql.NullTime
	)
	if err := row.Scan(&entry.Path, &hash, &generation, &indexedAt); err != nil {
		return nil, err
	}
	entry.ContentHash = hash.String
	entry.Generation = uint64(generation)
	if indexedAt.Valid {
		entry.IndexedAt = indexedAt.Time
	}
	return &entry, nil
}

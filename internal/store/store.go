// Package store persists finished investigations as incidents in a local
// SQLite database and serves similarity search over them for the memory
// correlator and campaign detector. Embeddings are stored as JSON alongside
// each row and ranked with cosine similarity; when the sqlite-vec extension
// is compiled in (build tag sqlite_vec) it is registered with the driver.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"socflow/internal/embedding"
	"socflow/internal/logging"
)

// IncidentStore is the SQLite-backed incident and playbook store. Safe for
// concurrent use across runs; the embedding engine is optional and keyword
// search is the fallback when it is absent.
type IncidentStore struct {
	db              *sql.DB
	mu              sync.RWMutex
	dbPath          string
	embeddingEngine embedding.EmbeddingEngine
	vectorExt       bool // sqlite-vec available
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*IncidentStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Initializing IncidentStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &IncidentStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; using embedding-JSON cosine ranking")
	}

	logging.Store("IncidentStore initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *IncidentStore) initialize() error {
	incidentsTable := `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		alert_type TEXT NOT NULL,
		severity TEXT,
		title TEXT,
		description TEXT,
		source_ip TEXT,
		threat_score REAL,
		attack_stage TEXT,
		threat_category TEXT,
		techniques TEXT,
		campaign_id TEXT,
		summary TEXT,
		document TEXT,
		embedding TEXT,
		occurred_at DATETIME NOT NULL,
		inserted_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_occurred ON incidents(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_incidents_type ON incidents(alert_type);
	CREATE INDEX IF NOT EXISTS idx_incidents_campaign ON incidents(campaign_id);
	`

	playbooksTable := `
	CREATE TABLE IF NOT EXISTS playbooks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		threat_type TEXT NOT NULL,
		attack_stage TEXT NOT NULL,
		name TEXT NOT NULL,
		steps TEXT NOT NULL,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(threat_type, attack_stage, name)
	);
	CREATE INDEX IF NOT EXISTS idx_playbooks_type ON playbooks(threat_type);
	`

	for _, stmt := range []string{incidentsTable, playbooksTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// detectVecExtension probes for the sqlite-vec extension.
func (s *IncidentStore) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vectorExt = true
		logging.StoreDebug("sqlite-vec version: %s", version)
	}
}

// SetEmbeddingEngine configures the embedding engine for this store.
// Without one, similarity search degrades to keyword matching.
func (s *IncidentStore) SetEmbeddingEngine(engine embedding.EmbeddingEngine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddingEngine = engine
}

// Close closes the database.
func (s *IncidentStore) Close() error {
	return s.db.Close()
}

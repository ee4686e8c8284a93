package devnode

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ledgerwatch.mini/lwm/internal/types"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile    = "devnode.db"
	maxBusyTimeoutMs = 5000
)

// Store persists the chain, the mempool and the peer set in SQLite so a
// restarted node resumes where it stopped.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	file string
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = defaultDBFile
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{file: absPath}
	if err := s.openDB(); err != nil {
		return nil, err
	}
	if err := s.ensureSchema(); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(s.file)))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			idx INTEGER PRIMARY KEY,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mempool (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS peers (
			address TEXT PRIMARY KEY
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// LoadChain returns the stored blocks in index order.
func (s *Store) LoadChain() ([]types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT data FROM blocks ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []types.Block
	for rows.Next() {
		var b types.Block
		if err := scanJSON(rows, &b); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// CommitBlock appends b and, when it sealed the mempool, empties it in the
// same transaction.
func (s *Store) CommitBlock(b types.Block, clearMempool bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sql.Tx) error {
		if err := insertBlock(tx, b); err != nil {
			return err
		}
		if clearMempool {
			if _, err := tx.Exec(`DELETE FROM mempool`); err != nil {
				return fmt.Errorf("clear mempool: %w", err)
			}
		}
		return nil
	})
}

// ReplaceChain swaps the whole stored chain for blocks.
func (s *Store) ReplaceChain(blocks []types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM blocks`); err != nil {
			return fmt.Errorf("delete blocks: %w", err)
		}
		for _, b := range blocks {
			if err := insertBlock(tx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadMempool returns pending transactions in arrival order.
func (s *Store) LoadMempool() ([]types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT data FROM mempool ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query mempool: %w", err)
	}
	defer rows.Close()

	var txs []types.Transaction
	for rows.Next() {
		var tx types.Transaction
		if err := scanJSON(rows, &tx); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// AddPending appends tx to the mempool.
func (s *Store) AddPending(tx types.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`INSERT INTO mempool (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Peers returns the known peer addresses sorted.
func (s *Store) Peers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT address FROM peers ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, addr)
	}
	return peers, rows.Err()
}

// AddPeer records addr. Adding a known peer is a no-op.
func (s *Store) AddPeer(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO peers (address) VALUES (?)`, addr); err != nil {
		return fmt.Errorf("insert peer: %w", err)
	}
	return nil
}

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertBlock(tx *sql.Tx, b types.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO blocks (idx, data) VALUES (?, ?)`, b.Index, string(data)); err != nil {
		return fmt.Errorf("insert block %d: %w", b.Index, err)
	}
	return nil
}

func scanJSON(rows *sql.Rows, v any) error {
	var data string
	if err := rows.Scan(&data); err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), v)
}

package kv

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// collationName is the collation the partition comparator is registered as.
const collationName = "tracekey"

// connector opens connections with a driver carrying this partition's
// collation, so no global driver registration is needed.
type connector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
}

func (c *connector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }
func (c *connector) Driver() driver.Driver                        { return c.driver }

type sqliteBackend struct {
	db      *sql.DB
	name    string
	policy  MergePolicy
	metrics *Metrics
	// path is empty for in-memory partitions.
	path string

	foldMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func openSQLite(cfg Config, name string, policy MergePolicy, metrics *Metrics) (*sqliteBackend, error) {
	b := &sqliteBackend{name: name, policy: policy, metrics: metrics}

	dsn := ":memory:"
	if !cfg.InMemory {
		b.path = filepath.Join(cfg.Dir, name+".db")
		dsn = "file:" + b.path
	}

	drv := &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterCollation(collationName, keyCollation(policy))
		},
	}
	db := sql.OpenDB(&connector{dsn: dsn, driver: drv})

	// One connection: an in-memory database lives and dies with it, and
	// SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := applySQLitePragmas(db, cfg.SyncWrites); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := checkPolicyName(db, policy.Name()); err != nil {
		db.Close()
		return nil, err
	}
	b.db = db

	if cfg.CompactionInterval > 0 {
		b.startCompactor(cfg.CompactionInterval)
	}
	return b, nil
}

func applySQLitePragmas(db *sql.DB, syncWrites bool) error {
	synchronous := "NORMAL"
	if syncWrites {
		synchronous = "FULL"
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = " + synchronous,
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// checkPolicyName records the policy name on first open and rejects a
// different one later, since the stored order depends on it.
func checkPolicyName(db *sql.DB, name string) error {
	var stored string
	err := db.QueryRow(`SELECT value FROM partition_meta WHERE name = 'policy'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.Exec(`INSERT INTO partition_meta (name, value) VALUES ('policy', ?)`, name)
		if err != nil {
			return fmt.Errorf("record policy name: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read policy name: %w", err)
	case stored != name:
		return fmt.Errorf("merge policy %q does not match stored policy %q", name, stored)
	}
	return nil
}

func keyCollation(policy MergePolicy) func(string, string) int {
	return func(a, b string) int {
		return policy.Compare(unhexKey(a), unhexKey(b))
	}
}

func unhexKey(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(corruption([]byte(s), err))
	}
	return b
}

func (b *sqliteBackend) startCompactor(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := b.fold(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Error("background fold failed",
							"partition", b.name,
							"error", err,
						)
					}
					continue
				}
				if n > 0 {
					slog.Debug("background fold",
						"partition", b.name,
						"operands", n,
					)
				}
			}
		}
	}()
}

func (b *sqliteBackend) apply(ops []Op) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO operands (key, value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, op := range ops {
		if _, err := stmt.Exec(hex.EncodeToString(op.Key), op.Value); err != nil {
			return fmt.Errorf("insert operand: %w", err)
		}
	}
	return tx.Commit()
}

type operandGroup struct {
	key    string
	values [][]byte
}

// fold merges every pending operand into its record and returns the number
// of operands consumed. Records resolved to a deletion are removed.
func (b *sqliteBackend) fold(ctx context.Context) (int, error) {
	b.foldMu.Lock()
	defer b.foldMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	groups, maxSeq, count, err := readOperands(ctx, tx)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	for _, g := range groups {
		operands := g.values
		var base []byte
		err := tx.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, g.key).Scan(&base)
		switch {
		case err == nil:
			operands = append([][]byte{base}, operands...)
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("read record: %w", err)
		}

		out, keep := fold(b.policy, unhexKey(g.key), operands, true)
		if keep {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO records (key, value) VALUES (?, ?)
				 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
				g.key, out)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, g.key)
		}
		if err != nil {
			return 0, fmt.Errorf("write record: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM operands WHERE seq <= ?`, maxSeq); err != nil {
		return 0, fmt.Errorf("delete operands: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	b.metrics.folded.Add(float64(count))
	return count, nil
}

// readOperands loads the pending operands grouped by key, oldest first.
func readOperands(ctx context.Context, tx *sql.Tx) ([]operandGroup, int64, int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT seq, key, value FROM operands ORDER BY key, seq`)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("query operands: %w", err)
	}
	defer rows.Close()

	var (
		groups []operandGroup
		maxSeq int64
		count  int
	)
	for rows.Next() {
		var (
			seq   int64
			key   string
			value []byte
		)
		if err := rows.Scan(&seq, &key, &value); err != nil {
			return nil, 0, 0, fmt.Errorf("scan operand: %w", err)
		}
		maxSeq = max(maxSeq, seq)
		count++
		if len(groups) == 0 || groups[len(groups)-1].key != key {
			groups = append(groups, operandGroup{key: key})
		}
		last := &groups[len(groups)-1]
		last.values = append(last.values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("iterate operands: %w", err)
	}
	return groups, maxSeq, count, nil
}

// newIterator folds pending operands first so the scan sees resolved
// records only.
func (b *sqliteBackend) newIterator() (Iterator, error) {
	if _, err := b.fold(context.Background()); err != nil {
		return nil, err
	}
	return &sqliteIterator{db: b.db}, nil
}

func (b *sqliteBackend) compact(ctx context.Context) error {
	_, err := b.fold(ctx)
	return err
}

func (b *sqliteBackend) diskUsage() (uint64, error) {
	var pages, pageSize uint64
	if err := b.db.QueryRow("PRAGMA page_count").Scan(&pages); err != nil {
		return 0, err
	}
	if err := b.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

func (b *sqliteBackend) close() error {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
	return b.db.Close()
}

func (b *sqliteBackend) destroy() error {
	if b.path == "" {
		return nil
	}
	var errs []error
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(b.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type iterPos int

const (
	posUnset iterPos = iota
	posValid
	posBeforeFirst
	posAfterLast
)

// sqliteIterator positions itself with one indexed single-row query per
// move. It follows Pebble's iterator semantics: stepping back into range
// from an exhausted end lands on the first or last record.
type sqliteIterator struct {
	db     *sql.DB
	pos    iterPos
	hexKey string
	key    []byte
	value  []byte
	err    error
}

const (
	qFirst  = `SELECT key, value FROM records ORDER BY key ASC LIMIT 1`
	qLast   = `SELECT key, value FROM records ORDER BY key DESC LIMIT 1`
	qSeekGE = `SELECT key, value FROM records WHERE key >= ? ORDER BY key ASC LIMIT 1`
	qSeekGT = `SELECT key, value FROM records WHERE key > ? ORDER BY key ASC LIMIT 1`
	qSeekLT = `SELECT key, value FROM records WHERE key < ? ORDER BY key DESC LIMIT 1`
)

func (it *sqliteIterator) load(forward bool, query string, args ...any) bool {
	var (
		key   string
		value []byte
	)
	err := it.db.QueryRow(query, args...).Scan(&key, &value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		it.pos = posBeforeFirst
		if forward {
			it.pos = posAfterLast
		}
	case err != nil:
		it.err = err
		it.pos = posUnset
	default:
		it.hexKey = key
		it.key = unhexKey(key)
		it.value = value
		it.pos = posValid
	}
	return it.pos == posValid
}

func (it *sqliteIterator) First() bool { return it.load(true, qFirst) }
func (it *sqliteIterator) Last() bool  { return it.load(false, qLast) }

func (it *sqliteIterator) SeekGE(key []byte) bool {
	return it.load(true, qSeekGE, hex.EncodeToString(key))
}

func (it *sqliteIterator) SeekLT(key []byte) bool {
	return it.load(false, qSeekLT, hex.EncodeToString(key))
}

func (it *sqliteIterator) Next() bool {
	switch it.pos {
	case posValid:
		return it.load(true, qSeekGT, it.hexKey)
	case posBeforeFirst:
		return it.First()
	}
	return false
}

func (it *sqliteIterator) Prev() bool {
	switch it.pos {
	case posValid:
		return it.load(false, qSeekLT, it.hexKey)
	case posAfterLast:
		return it.Last()
	}
	return false
}

func (it *sqliteIterator) Valid() bool   { return it.pos == posValid }
func (it *sqliteIterator) Key() []byte   { return it.key }
func (it *sqliteIterator) Value() []byte { return it.value }
func (it *sqliteIterator) Error() error  { return it.err }
func (it *sqliteIterator) Close() error  { return nil }

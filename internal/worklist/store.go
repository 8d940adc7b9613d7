package worklist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"jxlpack/internal/config"
	"jxlpack/internal/fileutil"
	"jxlpack/internal/services"
)

const (
	dbExt   = ".db"
	lockExt = ".lock"
)

// ErrLocked is returned when another run holds the worklist for this root.
var ErrLocked = errors.New("worklist is locked by another run")

// ErrAlreadyDone is returned by MarkDone for an entry that is already done.
var ErrAlreadyDone = errors.New("worklist entry already done")

// MissingEntryError reports an attempt to complete a directory the worklist
// never recorded. It indicates a logic error in the caller, not an I/O fault.
type MissingEntryError struct {
	Path string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("worklist has no entry for %s", e.Path)
}

// Root identifies one invocation target.
type Root struct {
	Path        string
	Fingerprint string
	Settings    config.Settings
	CreatedAt   time.Time
}

// Entry is the persisted state of one directory.
type Entry struct {
	Path      string
	Done      bool
	UpdatedAt time.Time
}

// Store manages worklist persistence backed by SQLite.
type Store struct {
	db       *sql.DB
	path     string
	lock     *flock.Flock
	root     Root
	resumed  bool
	settings config.Settings
}

// CanonicalRoot returns the form of root used for identity: absolute,
// cleaned, and NFC-normalized.
func CanonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	return norm.NFC.String(filepath.Clean(abs)), nil
}

// RootFingerprint returns the 16 hex digit identity of a canonical root.
func RootFingerprint(canonicalRoot string) string {
	return fileutil.FingerprintString(canonicalRoot).String()
}

// Locate returns the database and lock paths for root inside stateDir.
func Locate(stateDir, root string) (dbPath, lockPath string, err error) {
	canonical, err := CanonicalRoot(root)
	if err != nil {
		return "", "", err
	}
	base := filepath.Join(stateDir, RootFingerprint(canonical))
	return base + dbExt, base + lockExt, nil
}

// Open loads the worklist for root, creating it with the given settings
// snapshot when none exists. The returned store holds the root's run lock
// until Close.
func Open(ctx context.Context, stateDir, root string, settings config.Settings) (*Store, error) {
	canonical, err := CanonicalRoot(root)
	if err != nil {
		return nil, persistence("open", err)
	}
	dbPath, lockPath, err := Locate(stateDir, canonical)
	if err != nil {
		return nil, persistence("open", err)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, persistence("open", fmt.Errorf("ensure state directory: %w", err))
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, persistence("open", fmt.Errorf("acquire lock: %w", err))
	}
	if !ok {
		return nil, persistence("open", fmt.Errorf("%w: %s", ErrLocked, lockPath))
	}

	db, err := openDB(ctx, dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, persistence("open", err)
	}

	store := &Store{db: db, path: dbPath, lock: lock, settings: settings}
	if err := store.initSchema(ctx); err != nil {
		_ = store.closeDB()
		_ = lock.Unlock()
		return nil, persistence("init schema", err)
	}
	if err := store.loadRoot(ctx, canonical, settings); err != nil {
		_ = store.closeDB()
		_ = lock.Unlock()
		return nil, persistence("load root", err)
	}
	return store, nil
}

func openDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return db, nil
}

func (s *Store) loadRoot(ctx context.Context, canonical string, settings config.Settings) error {
	var (
		rootPath, fingerprint, rawSettings, createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT root_path, fingerprint, settings, created_at FROM work_root WHERE id = 1",
	).Scan(&rootPath, &fingerprint, &rawSettings, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createRoot(ctx, canonical, settings)
	}
	if err != nil {
		return fmt.Errorf("read work root: %w", err)
	}
	if rootPath != canonical {
		return fmt.Errorf("worklist %s belongs to %s, not %s", s.path, rootPath, canonical)
	}
	snapshot, err := config.DecodeSettings(rawSettings)
	if err != nil {
		return err
	}
	s.root = Root{
		Path:        rootPath,
		Fingerprint: fingerprint,
		Settings:    snapshot,
		CreatedAt:   parseTime(createdAt),
	}
	s.resumed = true
	return nil
}

func (s *Store) createRoot(ctx context.Context, canonical string, settings config.Settings) error {
	encoded, err := settings.Encode()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	fingerprint := RootFingerprint(canonical)
	if _, err := s.exec(ctx,
		"INSERT INTO work_root (id, root_path, fingerprint, settings, created_at) VALUES (1, ?, ?, ?, ?)",
		canonical, fingerprint, encoded, now.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert work root: %w", err)
	}
	s.root = Root{Path: canonical, Fingerprint: fingerprint, Settings: settings, CreatedAt: now}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Root returns the work root recorded when the worklist was created.
func (s *Store) Root() Root { return s.root }

// Resumed reports whether the worklist existed before this run.
func (s *Store) Resumed() bool { return s.resumed }

// SettingsChanged reports whether the settings this run was opened with
// differ from the snapshot recorded at creation.
func (s *Store) SettingsChanged() bool {
	return !reflect.DeepEqual(normalizeSettings(s.root.Settings), normalizeSettings(s.settings))
}

func normalizeSettings(in config.Settings) config.Settings {
	if in.PNGArgs == nil {
		in.PNGArgs = []string{}
	}
	if in.JPGArgs == nil {
		in.JPGArgs = []string{}
	}
	return in
}

// EnsureAll records every path not yet in the worklist as pending, in one
// transaction, and returns the done flag of each path.
func (s *Store) EnsureAll(ctx context.Context, paths []string) (map[string]bool, error) {
	result := make(map[string]bool, len(paths))
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		insert, err := tx.PrepareContext(ctx,
			"INSERT INTO entries (path, done, created_at, updated_at) VALUES (?, 0, ?, ?) ON CONFLICT(path) DO NOTHING")
		if err != nil {
			return err
		}
		defer insert.Close()
		lookup, err := tx.PrepareContext(ctx, "SELECT done FROM entries WHERE path = ?")
		if err != nil {
			return err
		}
		defer lookup.Close()

		for _, path := range paths {
			if _, err := insert.ExecContext(ctx, path, now, now); err != nil {
				return fmt.Errorf("insert entry %s: %w", path, err)
			}
			var done int
			if err := lookup.QueryRowContext(ctx, path).Scan(&done); err != nil {
				return fmt.Errorf("read entry %s: %w", path, err)
			}
			result[path] = done == 1
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, persistence("ensure entries", err)
	}
	return result, nil
}

// Lookup returns the entry for path.
func (s *Store) Lookup(ctx context.Context, path string) (Entry, bool, error) {
	var (
		done      int
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, "SELECT done, updated_at FROM entries WHERE path = ?", path).Scan(&done, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, persistence("lookup entry", err)
	}
	return Entry{Path: path, Done: done == 1, UpdatedAt: parseTime(updatedAt)}, true, nil
}

// MarkDone transitions path from pending to done. It returns a
// *MissingEntryError when path was never recorded and ErrAlreadyDone when
// another caller completed it first.
func (s *Store) MarkDone(ctx context.Context, path string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.exec(ctx, "UPDATE entries SET done = 1, updated_at = ? WHERE path = ? AND done = 0", now, path)
	if err != nil {
		return persistence("mark done", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistence("mark done", err)
	}
	if affected == 1 {
		return nil
	}
	_, found, err := s.Lookup(ctx, path)
	if err != nil {
		return err
	}
	if !found {
		return &MissingEntryError{Path: path}
	}
	return ErrAlreadyDone
}

// Entries returns every entry ordered by path.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, done, updated_at FROM entries ORDER BY path")
	if err != nil {
		return nil, persistence("list entries", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			done      int
			updatedAt string
		)
		if err := rows.Scan(&e.Path, &done, &updatedAt); err != nil {
			return nil, persistence("scan entry", err)
		}
		e.Done = done == 1
		e.UpdatedAt = parseTime(updatedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list entries", err)
	}
	return entries, nil
}

// Counts returns the number of pending and done entries.
func (s *Store) Counts(ctx context.Context) (pending, done int, err error) {
	return countEntries(ctx, s.db)
}

func countEntries(ctx context.Context, db *sql.DB) (pending, done int, err error) {
	row := db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(CASE WHEN done = 0 THEN 1 ELSE 0 END), 0), COALESCE(SUM(done), 0) FROM entries")
	if err := row.Scan(&pending, &done); err != nil {
		return 0, 0, persistence("count entries", err)
	}
	return pending, done, nil
}

// Close checkpoints the write-ahead log, closes the database, and releases
// the run lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if err := s.closeDB(); err != nil {
		errs = append(errs, persistence("close", err))
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release worklist lock: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	_, checkpointErr := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	closeErr := s.db.Close()
	s.db = nil
	return errors.Join(checkpointErr, closeErr)
}

func persistence(op string, err error) error {
	return services.Wrap(services.ErrPersistence, "worklist", op, "worklist storage failed", err)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return t
}

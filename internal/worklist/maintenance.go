package worklist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
)

// Summary describes one persisted worklist without taking its run lock.
type Summary struct {
	File    string
	Root    Root
	Pending int
	Done    int
	Err     error
}

// List summarizes every worklist database in stateDir, sorted by root path.
// Unreadable databases are reported with Err set rather than aborting.
func List(ctx context.Context, stateDir string) ([]Summary, error) {
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, persistence("list", err)
	}

	var summaries []Summary
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != dbExt {
			continue
		}
		path := filepath.Join(stateDir, entry.Name())
		summaries = append(summaries, summarize(ctx, path))
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Root.Path != summaries[j].Root.Path {
			return summaries[i].Root.Path < summaries[j].Root.Path
		}
		return summaries[i].File < summaries[j].File
	})
	return summaries, nil
}

func summarize(ctx context.Context, dbPath string) Summary {
	summary := Summary{File: dbPath}
	db, err := openDB(ctx, dbPath)
	if err != nil {
		summary.Err = err
		return summary
	}
	defer db.Close()

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(ctx); err != nil {
		summary.Err = err
		return summary
	}
	var rootPath, fingerprint, rawSettings, createdAt string
	err = db.QueryRowContext(ctx,
		"SELECT root_path, fingerprint, settings, created_at FROM work_root WHERE id = 1",
	).Scan(&rootPath, &fingerprint, &rawSettings, &createdAt)
	if err != nil {
		summary.Err = fmt.Errorf("read work root: %w", err)
		return summary
	}
	summary.Root = Root{Path: rootPath, Fingerprint: fingerprint, CreatedAt: parseTime(createdAt)}
	summary.Pending, summary.Done, summary.Err = countEntries(ctx, db)
	return summary
}

// Reset deletes the worklist for root so the next run starts from scratch.
// It refuses while another run holds the root's lock. Reset reports whether
// a worklist existed.
func Reset(stateDir, root string) (bool, error) {
	dbPath, lockPath, err := Locate(stateDir, root)
	if err != nil {
		return false, persistence("reset", err)
	}
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return false, persistence("reset", fmt.Errorf("acquire lock: %w", err))
	}
	if !ok {
		return false, persistence("reset", fmt.Errorf("%w: %s", ErrLocked, lockPath))
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lockPath)
	}()

	var errs []error
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return true, persistence("reset", err)
	}
	return true, nil
}

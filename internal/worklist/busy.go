package worklist

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sqlite3 "modernc.org/sqlite/lib"
)

// busy_timeout covers ordinary lock waits, but SQLite still returns
// SQLITE_BUSY without waiting when a deferred transaction cannot upgrade to
// a writer, or while another connection runs WAL recovery. `worklist list`
// opens databases without the run lock, so a run can hit either case.
const (
	busyAttempts   = 5
	busyFirstDelay = 10 * time.Millisecond
	busyMaxDelay   = 200 * time.Millisecond
)

// isBusy matches SQLITE_BUSY and its extended codes.
func isBusy(err error) bool {
	var coded interface{ Code() int }
	return errors.As(err, &coded) && coded.Code()&0xff == sqlite3.SQLITE_BUSY
}

// withBusyRetry runs op until it succeeds, fails with something other than
// SQLITE_BUSY, or runs out of attempts. The delay doubles up to busyMaxDelay.
func withBusyRetry(ctx context.Context, op func() error) error {
	delay := busyFirstDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !isBusy(err) || attempt == busyAttempts {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, busyMaxDelay)
	}
}

// exec runs one statement under withBusyRetry.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withBusyRetry(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

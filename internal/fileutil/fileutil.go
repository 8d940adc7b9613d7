package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a fast, non-cryptographic digest of a file's full contents.
// It is only ever used to decide whether two files are byte-identical.
type Fingerprint uint64

// String renders the fingerprint as 16 lowercase hex digits.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// FingerprintFile streams the whole file through xxhash64.
func FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return FingerprintReader(f)
}

// FingerprintReader digests everything r yields.
func FingerprintReader(r io.Reader) (Fingerprint, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return Fingerprint(h.Sum64()), nil
}

// FingerprintString digests a string, used for path-derived identities.
func FingerprintString(s string) Fingerprint {
	return Fingerprint(xxhash.Sum64String(s))
}

// Exists reports whether path exists. Errors other than not-exist count as
// existing so callers never treat an unreadable path as free.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// partialSuffix marks an output that is still being written.
const partialSuffix = ".partial"

// PartialPath returns the hidden sibling an output is written to before it
// is renamed into place: dir/.<base>.partial.
func PartialPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+partialSuffix)
}

// IsPartial reports whether name is a PartialPath base name.
func IsPartial(name string) bool {
	return len(name) > 1+len(partialSuffix) && strings.HasPrefix(name, ".") && strings.HasSuffix(name, partialSuffix)
}

// CommitPartial renames the partial file onto path and syncs the parent
// directory so the rename survives a crash.
func CommitPartial(partial, path string) error {
	if err := os.Rename(partial, path); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return SyncDir(filepath.Dir(path))
}

// SyncDir fsyncs a directory's entry list.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

// Package archive bundles a directory's accepted outputs into one stored
// (uncompressed) zip placed beside the directory, then removes the loose
// files it consumed.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"jxlpack/internal/collision"
	"jxlpack/internal/fileutil"
	"jxlpack/internal/services"
)

// Ext is the container file extension.
const Ext = ".zip"

// memberMode is the permission recorded for every member.
const memberMode os.FileMode = 0o755

// Result describes one packaging pass.
type Result struct {
	// Path is the archive that was written, or empty when nothing was bundled.
	Path string
	// Added lists members in the order they were appended.
	Added []string
	// Missing lists inputs that vanished before they could be appended.
	Missing []string
	// RemoveErrors holds members that were archived but could not be deleted.
	RemoveErrors map[string]error
	// Reconcile is set when the archive name was already taken.
	Reconcile *collision.Outcome
}

// Empty reports whether no member made it into the archive.
func (r Result) Empty() bool {
	return len(r.Added) == 0
}

// PathFor returns the archive location for dir: <parent>/<base(dir)>.zip.
func PathFor(dir string) string {
	cleaned := filepath.Clean(dir)
	return filepath.Join(filepath.Dir(cleaned), filepath.Base(cleaned)+Ext)
}

// Package writes files into the archive for dir. Duplicate inputs are
// appended once. Inputs that no longer exist are skipped and reported in
// Missing. When the archive name is taken by an earlier artifact, the new
// archive goes to a numbered name and is reconciled by content.
//
// The archive is written under a hidden partial name and renamed into place
// once complete. Members are removed only after that rename,
// so an interrupted run never loses a file that is not yet safely archived.
// If nothing was appended the archive is deleted again.
func Package(ctx context.Context, dir string, files []string) (Result, error) {
	var result Result
	inputs := dedupe(files)
	if len(inputs) == 0 {
		return result, nil
	}

	target := PathFor(dir)
	resolver := collision.NewResolver()
	reservation, err := resolver.Reserve(target)
	if err != nil {
		return result, err
	}

	partial := fileutil.PartialPath(reservation.Path)
	added, missing, err := write(ctx, partial, inputs)
	result.Missing = missing
	if err != nil {
		_ = os.Remove(partial)
		return result, services.Wrap(services.ErrTransient, "archive", "write", reservation.Path, err)
	}
	if len(added) == 0 {
		if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
			return result, services.Wrap(services.ErrTransient, "archive", "remove empty archive", partial, err)
		}
		return result, nil
	}
	if err := fileutil.CommitPartial(partial, reservation.Path); err != nil {
		_ = os.Remove(partial)
		return result, services.Wrap(services.ErrTransient, "archive", "commit", reservation.Path, err)
	}
	result.Added = added
	result.Path = reservation.Path

	if reservation.Collided() {
		outcome, err := collision.Reconcile(reservation)
		if err != nil {
			return result, err
		}
		result.Path = outcome.Final
		result.Reconcile = &outcome
	}

	for _, member := range added {
		if err := os.Remove(member); err != nil && !errors.Is(err, os.ErrNotExist) {
			if result.RemoveErrors == nil {
				result.RemoveErrors = map[string]error{}
			}
			result.RemoveErrors[member] = err
		}
	}
	return result, nil
}

func write(ctx context.Context, path string, inputs []string) (added, missing []string, err error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if out != nil {
			_ = out.Close()
		}
	}()

	zw := zip.NewWriter(out)
	names := make(map[string]int, len(inputs))
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return added, missing, err
		}
		ok, err := appendMember(zw, input, names)
		if err != nil {
			return added, missing, err
		}
		if !ok {
			missing = append(missing, input)
			continue
		}
		added = append(added, input)
	}
	if err := zw.Close(); err != nil {
		return added, missing, fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return added, missing, fmt.Errorf("sync archive: %w", err)
	}
	err = out.Close()
	out = nil
	if err != nil {
		return added, missing, fmt.Errorf("close archive: %w", err)
	}
	return added, missing, nil
}

// appendMember stores one file. It returns false without error when the
// file has already disappeared.
func appendMember(zw *zip.Writer, input string, names map[string]int) (bool, error) {
	src, err := os.Open(input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", input, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", input, err)
	}

	header := &zip.FileHeader{
		Name:     memberName(filepath.Base(input), names),
		Method:   zip.Store,
		Modified: info.ModTime(),
	}
	header.SetMode(memberMode)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return false, fmt.Errorf("add %s: %w", input, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return false, fmt.Errorf("copy %s: %w", input, err)
	}
	return true, nil
}

func memberName(base string, names map[string]int) string {
	n := names[base]
	names[base] = n + 1
	if n == 0 {
		return base
	}
	return filepath.Base(collision.CandidatePath(base, n))
}

func dedupe(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		key := filepath.Clean(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

package cleanup

import (
	"fmt"
	"os"

	"github.com/Bios-Marcel/wastebasket/v2"
)

// Remover deletes files and directories, either reversibly or for good.
type Remover interface {
	RemoveFile(path string) error
	RemoveDir(path string) error
	Reversible() bool
}

// NewRemover returns the permanent remover when skipTrash is set, otherwise
// one backed by the user's trash.
func NewRemover(skipTrash bool) Remover {
	if skipTrash {
		return Permanent{}
	}
	return Trash{}
}

// Permanent removes immediately.
type Permanent struct{}

func (Permanent) RemoveFile(path string) error { return os.Remove(path) }

func (Permanent) RemoveDir(path string) error { return os.RemoveAll(path) }

func (Permanent) Reversible() bool { return false }

// Trash moves items into the platform trash.
type Trash struct{}

func (Trash) RemoveFile(path string) error { return trashPath(path) }

func (Trash) RemoveDir(path string) error { return trashPath(path) }

func (Trash) Reversible() bool { return true }

// trashPath reports a missing path as os.ErrNotExist; wastebasket silently
// skips paths that are already gone.
func trashPath(path string) error {
	if _, err := os.Lstat(path); err != nil {
		return err
	}
	if err := wastebasket.Trash(path); err != nil {
		return fmt.Errorf("move %s to trash: %w", path, err)
	}
	return nil
}

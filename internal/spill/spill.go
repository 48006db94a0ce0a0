// Package spill names the on-disk backing files for buffer pages.
//
// Each process gets its own scratch directory under the system temp
// directory, so concurrent instances never collide. Files are created and
// unlinked by the page manager; this package only hands out paths.
package spill

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/FocuswithJustin/petabuf/core/errors"
)

// Dir is a per-process scratch directory that yields one stable path per
// page index.
type Dir struct {
	root string
}

// NewDir creates a fresh scratch directory with owner-only permissions.
func NewDir() (*Dir, error) {
	root := filepath.Join(os.TempDir(), "petabuf-"+uuid.NewString())
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, errors.NewIO("create", root, err)
	}
	return &Dir{root: root}, nil
}

// Root returns the scratch directory path.
func (d *Dir) Root() string {
	return d.root
}

// Path returns the spill-file path for the given page index. Repeated calls
// with the same index return the same path.
func (d *Dir) Path(idx uint32) (string, error) {
	path := filepath.Join(d.root, fmt.Sprintf("page.%d", idx))
	if len(path) >= unix.PathMax {
		return "", errors.Wrapf(errors.ErrPathTooLong, "spill path for page %d", idx)
	}
	return path, nil
}

// Remove deletes the scratch directory and anything left in it. Called on
// clean exit; orphans after an abnormal exit are tolerated.
func (d *Dir) Remove() error {
	if err := os.RemoveAll(d.root); err != nil {
		return errors.NewIO("remove", d.root, err)
	}
	return nil
}

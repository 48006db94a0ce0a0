//go:build darwin

package sysmem

import (
	"golang.org/x/sys/unix"

	"github.com/FocuswithJustin/petabuf/core/errors"
)

// Total returns the total physical memory of the host in bytes.
func Total() (uint64, error) {
	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, errors.Wrap(err, "sysctl hw.memsize")
	}
	return memsize, nil
}

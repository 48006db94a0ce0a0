//go:build linux

package sysmem

import (
	"golang.org/x/sys/unix"

	"github.com/FocuswithJustin/petabuf/core/errors"
)

// Total returns the total physical memory of the host in bytes.
func Total() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, errors.Wrap(err, "sysinfo")
	}
	return uint64(info.Totalram) * uint64(info.Unit), nil
}

//go:build unix

// Package relay drives the readiness-driven copy loop between an input
// descriptor and an output descriptor through the paged elastic FIFO.
//
// The loop is strictly single-threaded: it blocks in poll until either
// side is ready, performs one transfer per ready side, and lets cursor
// advancement drive the page state machine. End of input is the only
// termination signal; the loop then drains until the write cursor catches
// the read cursor.
package relay

import (
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/FocuswithJustin/petabuf/core/buffer"
	"github.com/FocuswithJustin/petabuf/core/errors"
	"github.com/FocuswithJustin/petabuf/internal/logging"
)

// Relay copies bytes from an input descriptor to an output descriptor,
// absorbing any backlog in a buffer.Table. Single-goroutine; Run owns the
// table for its duration.
type Relay struct {
	in    int
	out   int
	table *buffer.Table

	// Cursors. rpos is the next byte to be filled from input, wpos the next
	// byte to be drained to output; wpos never passes rpos.
	rpos buffer.Addr
	wpos buffer.Addr

	inClosed bool
	bytesIn  uint64
	bytesOut uint64
}

// New binds a relay to the two descriptors and places both in non-blocking
// mode.
func New(in, out int, table *buffer.Table) (*Relay, error) {
	if err := unix.SetNonblock(in, true); err != nil {
		return nil, errors.Wrap(err, "setting input non-blocking")
	}
	if err := unix.SetNonblock(out, true); err != nil {
		return nil, errors.Wrap(err, "setting output non-blocking")
	}
	return &Relay{in: in, out: out, table: table}, nil
}

// Run copies input to output until end-of-input has been observed and the
// buffer is fully drained. Any I/O failure other than end-of-input is
// returned, as is exhaustion of the page table.
func (r *Relay) Run() error {
	if err := r.table.Pin(r.rpos.Idx); err != nil {
		return err
	}

	for {
		ntoread := r.readable()
		ntowrite := r.writable()
		if ntoread == 0 && ntowrite == 0 {
			break
		}

		logging.Debug("cursors", "rpos", r.rpos, "wpos", r.wpos)

		fds := make([]unix.PollFd, 0, 2)
		readAt, writeAt := -1, -1
		if ntoread > 0 {
			readAt = len(fds)
			fds = append(fds, unix.PollFd{Fd: int32(r.in), Events: unix.POLLIN})
		}
		if ntowrite > 0 {
			writeAt = len(fds)
			fds = append(fds, unix.PollFd{Fd: int32(r.out), Events: unix.POLLOUT})
		}

		for {
			if _, err := unix.Poll(fds, -1); err != nil {
				if err == unix.EINTR {
					continue
				}
				return errors.Wrap(err, "poll")
			}
			break
		}

		if readAt >= 0 && fds[readAt].Revents != 0 {
			if err := r.handleRead(ntoread); err != nil {
				return err
			}
		}
		if writeAt >= 0 && fds[writeAt].Revents != 0 {
			// Recomputed so bytes read this iteration are already writable.
			if err := r.handleWrite(r.writable()); err != nil {
				return err
			}
		}
	}

	logging.Info("buffer drained",
		"bytes_in", r.bytesIn, "bytes_out", r.bytesOut,
		"total", humanize.IBytes(r.bytesOut))
	return nil
}

// readable returns how many bytes may still be read into the current read
// page. Permanently zero once end-of-input has been observed.
func (r *Relay) readable() uint32 {
	if r.inClosed {
		return 0
	}
	return buffer.PageSize - r.rpos.Off
}

// writable returns how many bytes are available to drain from the current
// write page.
func (r *Relay) writable() uint32 {
	if r.wpos.Idx < r.rpos.Idx {
		return buffer.PageSize - r.wpos.Off
	}
	return r.rpos.Off - r.wpos.Off
}

func (r *Relay) handleRead(ntoread uint32) error {
	buf := r.table.Bytes(r.rpos)[:ntoread]
	n, err := unix.Read(r.in, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil
		}
		return errors.Wrap(err, "reading input")
	}
	if n == 0 {
		logging.Info("end of input", "bytes_in", r.bytesIn)
		r.inClosed = true
		return nil
	}

	r.bytesIn += uint64(n)
	logging.Debug("read", "bytes", n)

	r.rpos.Off += uint32(n)
	if r.rpos.Off == buffer.PageSize {
		// If the write side is still draining this page its mapping must
		// stay valid; the unpin is deferred until wpos advances past it.
		if r.rpos.Idx != r.wpos.Idx {
			if err := r.table.Unpin(r.rpos.Idx); err != nil {
				return err
			}
		}
		if r.rpos.Idx+1 == buffer.TableSize {
			return errors.NewCapacity("page table", buffer.TableSize)
		}
		r.rpos.Idx++
		if err := r.table.Pin(r.rpos.Idx); err != nil {
			return err
		}
		r.rpos.Off = 0
	}
	return nil
}

func (r *Relay) handleWrite(ntowrite uint32) error {
	if ntowrite == 0 {
		return nil
	}

	buf := r.table.Bytes(r.wpos)[:ntowrite]
	n, err := unix.Write(r.out, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil
		}
		return errors.Wrap(err, "writing output")
	}

	r.bytesOut += uint64(n)
	logging.Debug("wrote", "bytes", n)

	r.wpos.Off += uint32(n)
	if r.wpos.Off == buffer.PageSize {
		if err := r.table.Unpin(r.wpos.Idx); err != nil {
			return err
		}
		if err := r.table.Free(r.wpos.Idx); err != nil {
			return err
		}
		r.wpos.Idx++
		if err := r.table.Pin(r.wpos.Idx); err != nil {
			return err
		}
		r.wpos.Off = 0
	}
	return nil
}

// Close releases the live window: every slot between the write and read
// cursors is unpinned and freed. After a clean drain this returns each
// touched slot to its untouched state and unlinks any surviving spill file.
func (r *Relay) Close() error {
	for idx := r.wpos.Idx; idx <= r.rpos.Idx; idx++ {
		if err := r.table.Unpin(idx); err != nil {
			return err
		}
		if err := r.table.Free(idx); err != nil {
			return err
		}
	}
	return nil
}

// BytesIn returns the number of bytes consumed from the input side.
func (r *Relay) BytesIn() uint64 {
	return r.bytesIn
}

// BytesOut returns the number of bytes produced on the output side.
func (r *Relay) BytesOut() uint64 {
	return r.bytesOut
}

//go:build unix

package buffer

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/FocuswithJustin/petabuf/core/errors"
	"github.com/FocuswithJustin/petabuf/internal/logging"
)

// Buffer geometry
const (
	// PageSize is the size of one page in bytes (16 MiB).
	PageSize = 1 << 24

	// TableSize is the number of slots in the page table. Together with
	// PageSize it addresses 2^50 bytes, about one pebibyte.
	TableSize = 1 << 26

	// HeadroomSize is the size of the reserve allocation surrendered on the
	// first out-of-memory event.
	HeadroomSize = 4 * PageSize
)

// Page state flags. The two bits are independent.
const (
	// stateMapped is set while the slot has a live memory mapping.
	stateMapped uint8 = 0x1

	// stateOnDisk is set while the slot has a backing spill file.
	stateOnDisk uint8 = 0x2
)

// PathFactory yields the on-disk backing path for a page index. Repeated
// calls with the same index must return the same path for the lifetime of
// the process.
type PathFactory interface {
	Path(idx uint32) (string, error)
}

// Table is the page table and page manager of the elastic FIFO. It owns the
// per-slot state machine, the process-wide page counters, and the headroom
// reserve. A Table belongs to a single goroutine; its methods must not be
// called concurrently.
type Table struct {
	// Per-slot mappings; a slot's slice is non-nil iff its mapped bit is set.
	pages [][]byte

	// Per-slot state flags.
	states []uint8

	// Number of slots currently mapped.
	nmapped uint64

	// Number of slots currently backed by a spill file.
	nondisk uint64

	// Remaining budget of anonymous pages, initialized to half of physical
	// memory. Clamped to zero forever on the first ENOMEM.
	nfree uint64

	// clamped is set once nfree has been forced to zero by ENOMEM. From then
	// on freed anonymous pages no longer return budget.
	clamped bool

	// headroom is the reserve mapping, nil once released.
	headroom []byte

	// spill names the backing files for on-disk pages.
	spill PathFactory

	// mapAnon allocates an anonymous writable region. A function field so
	// tests can provoke the ENOMEM path.
	mapAnon func(length int) ([]byte, error)
}

// New creates a page table sized for a host with memBytes of physical
// memory, acquires the headroom reserve, and sets the anonymous-page budget
// to half of memBytes.
func New(memBytes uint64, spill PathFactory) (*Table, error) {
	t := &Table{
		pages:   make([][]byte, TableSize),
		states:  make([]uint8, TableSize),
		nfree:   memBytes / PageSize / 2,
		spill:   spill,
		mapAnon: mapAnonRegion,
	}

	headroom, err := mapAnonRegion(HeadroomSize)
	if err != nil {
		return nil, errors.Wrap(err, "allocating headroom")
	}
	t.headroom = headroom

	return t, nil
}

func mapAnonRegion(length int) ([]byte, error) {
	return unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

// Pin ensures the slot at idx is mapped. Untouched slots are created
// anonymous while budget remains and file-backed otherwise; on-disk slots
// are re-materialized from their spill file. ENOMEM on an anonymous
// allocation permanently demotes the table to file-backed creation; any
// other failure is returned to the caller.
func (t *Table) Pin(idx uint32) error {
	if idx >= TableSize {
		panic(fmt.Sprintf("buffer: pin of slot %d beyond table", idx))
	}

	s := t.states[idx]
	if s&stateMapped != 0 {
		return nil
	}
	if s&stateOnDisk != 0 {
		return t.mapExisting(idx)
	}

	if t.nfree > 0 {
		data, err := t.mapAnon(PageSize)
		if err == nil {
			t.pages[idx] = data
			t.states[idx] |= stateMapped
			t.nmapped++
			t.nfree--
			logging.Debug("page mapped", "idx", idx, "backing", "memory")
			t.logCounters()
			return nil
		}
		if !errors.Is(err, unix.ENOMEM) {
			return errors.Wrapf(err, "allocating page %d", idx)
		}

		// One-way demotion: no anonymous page is ever allocated again.
		t.nfree = 0
		t.clamped = true
		logging.Info("out of memory, resetting anonymous page budget")
		if t.headroom != nil {
			logging.Info("releasing headroom reserve",
				"size", humanize.IBytes(HeadroomSize))
			if err := t.releaseHeadroom(); err != nil {
				return err
			}
		}
	}

	return t.createSpilled(idx)
}

// Unpin surrenders the mapping of a file-backed slot. Anonymous slots stay
// resident: their bytes exist nowhere else, and there is no spill-on-unpin
// path. Unmapped slots are a no-op.
func (t *Table) Unpin(idx uint32) error {
	if idx >= TableSize {
		panic(fmt.Sprintf("buffer: unpin of slot %d beyond table", idx))
	}

	s := t.states[idx]
	if s&stateMapped == 0 || s&stateOnDisk == 0 {
		return nil
	}

	if err := unix.Munmap(t.pages[idx]); err != nil {
		return errors.Wrapf(err, "unmapping page %d", idx)
	}
	t.pages[idx] = nil
	t.states[idx] &^= stateMapped
	t.nmapped--
	logging.Debug("page unpinned", "idx", idx)
	t.logCounters()
	return nil
}

// Free permanently releases the slot at idx. A file-backed slot must be
// unpinned first; its spill file is unlinked. An anonymous slot is unmapped
// and its budget returned, unless the budget has been clamped by ENOMEM.
// An untouched slot is a no-op.
func (t *Table) Free(idx uint32) error {
	if idx >= TableSize {
		panic(fmt.Sprintf("buffer: free of slot %d beyond table", idx))
	}

	s := t.states[idx]
	switch {
	case s&stateOnDisk != 0:
		if s&stateMapped != 0 {
			return errors.Wrapf(errors.ErrStillMapped, "freeing page %d", idx)
		}
		path, err := t.spill.Path(idx)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil {
			return errors.NewIO("unlink", path, err)
		}
		t.states[idx] &^= stateOnDisk
		t.nondisk--
		logging.Debug("page freed", "idx", idx, "backing", "disk")

	case s&stateMapped != 0:
		if err := unix.Munmap(t.pages[idx]); err != nil {
			return errors.Wrapf(err, "freeing page %d", idx)
		}
		t.pages[idx] = nil
		t.states[idx] &^= stateMapped
		t.nmapped--
		if !t.clamped {
			t.nfree++
		}
		logging.Debug("page freed", "idx", idx, "backing", "memory")

	default:
		return nil
	}

	t.logCounters()
	return nil
}

// Bytes returns the mapped page at addr sliced from the address offset to
// the end of the page. The slot must be mapped and the address in range; a
// violation is a programmer error and panics.
func (t *Table) Bytes(addr Addr) []byte {
	if addr.Idx >= TableSize || addr.Off >= PageSize {
		panic(fmt.Sprintf("buffer: address %v out of range", addr))
	}
	if t.states[addr.Idx]&stateMapped == 0 {
		panic(fmt.Sprintf("buffer: page %d not mapped", addr.Idx))
	}
	return t.pages[addr.Idx][addr.Off:]
}

// mapExisting re-materializes an on-disk slot by mapping its spill file.
func (t *Table) mapExisting(idx uint32) error {
	path, err := t.spill.Path(idx)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.NewIO("open", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, PageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return errors.NewIO("mmap", path, err)
	}
	if err := f.Close(); err != nil {
		return errors.NewIO("close", path, err)
	}

	t.pages[idx] = data
	t.states[idx] |= stateMapped
	t.nmapped++
	logging.Debug("page mapped", "idx", idx, "backing", "disk")
	t.logCounters()
	return nil
}

// createSpilled creates a fresh file-backed slot: the spill file is created
// with owner-only permissions, grown to a full page, and mapped shared.
func (t *Table) createSpilled(idx uint32) error {
	path, err := t.spill.Path(idx)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.NewIO("create", path, err)
	}
	if err := f.Truncate(PageSize); err != nil {
		f.Close()
		return errors.NewIO("grow", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, PageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return errors.NewIO("mmap", path, err)
	}
	if err := f.Close(); err != nil {
		return errors.NewIO("close", path, err)
	}

	t.pages[idx] = data
	t.states[idx] |= stateMapped | stateOnDisk
	t.nmapped++
	t.nondisk++
	logging.Debug("page created", "idx", idx, "backing", "disk")
	t.logCounters()
	return nil
}

// releaseHeadroom unmaps the reserve. It is never reacquired.
func (t *Table) releaseHeadroom() error {
	if t.headroom == nil {
		return nil
	}
	if err := unix.Munmap(t.headroom); err != nil {
		return errors.Wrap(err, "releasing headroom")
	}
	t.headroom = nil
	return nil
}

// Close releases the headroom reserve if it is still held. Page mappings
// and spill files are released through Unpin and Free.
func (t *Table) Close() error {
	return t.releaseHeadroom()
}

// MappedCount returns the number of slots with a live mapping.
func (t *Table) MappedCount() uint64 {
	return t.nmapped
}

// OnDiskCount returns the number of slots backed by a spill file.
func (t *Table) OnDiskCount() uint64 {
	return t.nondisk
}

// FreeBudget returns the remaining anonymous-page budget.
func (t *Table) FreeBudget() uint64 {
	return t.nfree
}

// BudgetClamped reports whether ENOMEM has permanently clamped the
// anonymous-page budget to zero.
func (t *Table) BudgetClamped() bool {
	return t.clamped
}

// HeadroomHeld reports whether the headroom reserve is still allocated.
func (t *Table) HeadroomHeld() bool {
	return t.headroom != nil
}

// SlotState returns the two state flags of the slot at idx.
func (t *Table) SlotState(idx uint32) (mapped, onDisk bool) {
	if idx >= TableSize {
		panic(fmt.Sprintf("buffer: state of slot %d beyond table", idx))
	}
	s := t.states[idx]
	return s&stateMapped != 0, s&stateOnDisk != 0
}

func (t *Table) logCounters() {
	logging.Debug("page counters",
		"nmapped", t.nmapped, "mapped", humanize.IBytes(t.nmapped*PageSize),
		"nondisk", t.nondisk, "ondisk", humanize.IBytes(t.nondisk*PageSize),
		"nfree", t.nfree, "free", humanize.IBytes(t.nfree*PageSize))
}

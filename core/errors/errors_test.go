package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIOError_Error(t *testing.T) {
	underlying := errors.New("permission denied")

	err := NewIO("open", "/tmp/scratch/page.7", underlying)
	want := "failed to open /tmp/scratch/page.7: permission denied"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = NewIO("poll", "", underlying)
	want = "failed to poll: permission denied"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIOError_Unwrap(t *testing.T) {
	underlying := errors.New("no such file")
	err := NewIO("unlink", "/tmp/scratch/page.0", underlying)

	if !errors.Is(err, underlying) {
		t.Error("errors.Is should match the underlying error")
	}

	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatal("errors.As should match *IOError")
	}
	if ioErr.Operation != "unlink" {
		t.Errorf("Operation = %q, want %q", ioErr.Operation, "unlink")
	}
}

func TestCapacityError(t *testing.T) {
	err := NewCapacity("page table", 1<<26)

	want := fmt.Sprintf("page table exhausted at %d entries", 1<<26)
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	if !errors.Is(err, ErrOutOfPages) {
		t.Error("CapacityError should unwrap to ErrOutOfPages")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	underlying := errors.New("boom")
	err := Wrap(underlying, "mapping page")
	if err.Error() != "mapping page: boom" {
		t.Errorf("Wrap() = %q", err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("wrapped error should match underlying")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "page %d", 3) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	underlying := errors.New("boom")
	err := Wrapf(underlying, "mapping page %d", 3)
	if err.Error() != "mapping page 3: boom" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("wrapped error should match underlying")
	}
}

func TestIsAndAs(t *testing.T) {
	err := Wrap(ErrStillMapped, "freeing page 4")

	if !Is(err, ErrStillMapped) {
		t.Error("Is() should match ErrStillMapped through wrapping")
	}

	ioErr := NewIO("mmap", "", ErrNotMapped)
	var target *IOError
	if !As(ioErr, &target) {
		t.Error("As() should match *IOError")
	}
}

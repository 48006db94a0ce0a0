package sysmem

import "testing"

func TestTotal(t *testing.T) {
	total, err := Total()
	if err != nil {
		t.Fatalf("Total() error = %v", err)
	}

	// Any real host has at least a few MiB of physical memory.
	if total < 1<<20 {
		t.Errorf("Total() = %d, implausibly small", total)
	}
}

package buffer

import "testing"

func TestAddr_Linear(t *testing.T) {
	tests := []struct {
		name string
		addr Addr
		want uint64
	}{
		{"origin", Addr{Idx: 0, Off: 0}, 0},
		{"within first page", Addr{Idx: 0, Off: 17}, 17},
		{"start of second page", Addr{Idx: 1, Off: 0}, PageSize},
		{"last addressable byte", Addr{Idx: TableSize - 1, Off: PageSize - 1}, uint64(TableSize)*PageSize - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.addr.Linear(); got != tt.want {
				t.Errorf("Linear() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAddr_Before(t *testing.T) {
	a := Addr{Idx: 0, Off: PageSize - 1}
	b := Addr{Idx: 1, Off: 0}

	if !a.Before(b) {
		t.Error("end of page 0 should precede start of page 1")
	}
	if b.Before(a) {
		t.Error("start of page 1 should not precede end of page 0")
	}
	if a.Before(a) {
		t.Error("an address should not precede itself")
	}
}

func TestAddr_String(t *testing.T) {
	addr := Addr{Idx: 3, Off: 128}
	if got := addr.String(); got != "3+128" {
		t.Errorf("String() = %q, want %q", got, "3+128")
	}
}

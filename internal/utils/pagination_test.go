package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// invalid -> default (no trim)
		{"x", 5, 5},
		{" 42", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestPaginate(t *testing.T) {
	cases := []struct {
		name                string
		total, number, size int
		wantNum, wantSize   int
		wantStart, wantEnd  int
		wantPages           int
		wantNext            bool
	}{
		{"first page", 45, 1, 20, 1, 20, 0, 20, 3, true},
		{"last partial page", 45, 3, 20, 3, 20, 40, 45, 3, false},
		{"past the end", 45, 9, 20, 9, 20, 45, 45, 3, false},
		{"clamped inputs", 5, 0, 0, 1, 1, 0, 1, 5, true},
		{"size capped", 500, 1, 1000, 1, 100, 0, 100, 5, true},
		{"empty list", 0, 1, 20, 1, 20, 0, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Paginate(tc.total, tc.number, tc.size, 100)
			if p.Number != tc.wantNum || p.Size != tc.wantSize || p.Start != tc.wantStart ||
				p.End != tc.wantEnd || p.TotalPages != tc.wantPages || p.HasNext != tc.wantNext {
				t.Fatalf("Paginate(%d,%d,%d) = %+v", tc.total, tc.number, tc.size, p)
			}
		})
	}
}

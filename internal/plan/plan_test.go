package plan

import (
	"reflect"
	"testing"

	"github.com/pepperpark/imaparchive/internal/inventory"
)

func set(seqs ...uint32) inventory.Set {
	s := inventory.Set{}
	for _, q := range seqs {
		s[q] = struct{}{}
	}
	return s
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name  string
		total uint32
		have  inventory.Set
		all   bool
		want  []uint32
	}{
		{"empty mailbox", 0, set(), false, []uint32{}},
		{"nothing stored", 4, set(), false, []uint32{1, 2, 3, 4}},
		{"gaps", 6, set(1, 3, 4), false, []uint32{2, 5, 6}},
		{"everything stored", 3, set(1, 2, 3), false, []uint32{}},
		{"refetch all ignores inventory", 3, set(1, 2, 3), true, []uint32{1, 2, 3}},
		{"stale inventory beyond total", 2, set(7, 8), false, []uint32{1, 2}},
		{"nil inventory", 2, nil, false, []uint32{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.total, tt.have, tt.all)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBatchesPartitioning(t *testing.T) {
	for p := 0; p <= 23; p++ {
		for size := 1; size <= 7; size++ {
			plan := make([]uint32, p)
			for i := range plan {
				plan[i] = uint32(i*2 + 1)
			}
			batches := Batches(plan, size)
			wantN := (p + size - 1) / size
			if len(batches) != wantN {
				t.Fatalf("P=%d B=%d: %d batches, want %d", p, size, len(batches), wantN)
			}
			var joined []uint32
			for i, b := range batches {
				if i < len(batches)-1 && len(b) != size {
					t.Fatalf("P=%d B=%d: batch %d has %d elements", p, size, i, len(b))
				}
				if len(b) == 0 || len(b) > size {
					t.Fatalf("P=%d B=%d: batch %d has %d elements", p, size, i, len(b))
				}
				joined = append(joined, b...)
			}
			if p > 0 && !reflect.DeepEqual(joined, plan) {
				t.Fatalf("P=%d B=%d: concatenation %v != plan %v", p, size, joined, plan)
			}
		}
	}
}

func TestBatchesSizeBelowOne(t *testing.T) {
	got := Batches([]uint32{1, 2}, 0)
	if !reflect.DeepEqual(got, [][]uint32{{1}, {2}}) {
		t.Errorf("Batches(size=0) = %v", got)
	}
}

func TestBuild(t *testing.T) {
	got := Build(7, set(2, 3), false, 2)
	want := [][]uint32{{1, 4}, {5, 6}, {7}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestPlanPreallocationIsBounded(t *testing.T) {
	const total = 200000
	have := inventory.Set{}
	for seq := uint32(1); seq <= total; seq++ {
		have[seq] = struct{}{}
	}
	got := Plan(total, have, false)
	if len(got) != 0 {
		t.Fatalf("expected nothing to fetch, got %d", len(got))
	}
	if cap(got) > maxPrealloc {
		t.Fatalf("preallocated %d entries for an empty plan", cap(got))
	}
}

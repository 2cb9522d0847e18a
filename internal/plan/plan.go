// Package plan decides which sequence numbers still need fetching and cuts
// them into request-sized batches.
package plan

import "github.com/pepperpark/imaparchive/internal/inventory"

// maxPrealloc caps the up-front allocation; total comes from the server.
const maxPrealloc = 1 << 16

// Plan returns the ascending sequence numbers in 1..total that are not in
// have. With refetchAll every number is returned.
func Plan(total uint32, have inventory.Set, refetchAll bool) []uint32 {
	hint := total
	if hint > maxPrealloc {
		hint = maxPrealloc
	}
	out := make([]uint32, 0, hint)
	for seq := uint32(1); seq <= total && seq != 0; seq++ {
		if !refetchAll && have.Has(seq) {
			continue
		}
		out = append(out, seq)
	}
	return out
}

// Batches splits p into consecutive groups of at most size elements. A size
// below 1 is treated as 1. An empty plan yields no batches.
func Batches(p []uint32, size int) [][]uint32 {
	if size < 1 {
		size = 1
	}
	var out [][]uint32
	for start := 0; start < len(p); start += size {
		end := start + size
		if end > len(p) {
			end = len(p)
		}
		out = append(out, p[start:end:end])
	}
	return out
}

// Build is Plan followed by Batches.
func Build(total uint32, have inventory.Set, refetchAll bool, size int) [][]uint32 {
	return Batches(Plan(total, have, refetchAll), size)
}

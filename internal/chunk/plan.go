// Package chunk partitions a flight log into sequential chunks.
//
// A plan is a list of cumulative cut points over the log's records: the
// n-th element is the number of records covered once chunk n is written.
package chunk

import "github.com/jmerrifield20/uavledger/internal/faults"

// Plan returns the cumulative cut points for splitting total records into
// the given number of chunks. The first total%chunks chunks receive one
// extra record; the last element always equals total.
//
// total == 0 is rejected: at least one chunk must carry new bytes. A plan
// with chunks > total is valid but contains empty chunks; see Sparse.
func Plan(total, chunks int) ([]int, error) {
	if total <= 0 {
		return nil, faults.Inputf("total records must be positive, got %d", total)
	}
	if chunks <= 0 {
		return nil, faults.Inputf("chunk count must be positive, got %d", chunks)
	}

	base := total / chunks
	rem := total % chunks

	cuts := make([]int, chunks)
	acc := 0
	for i := range cuts {
		acc += base
		if i < rem {
			acc++
		}
		cuts[i] = acc
	}
	return cuts, nil
}

// Sparse reports whether a plan of the given shape contains chunks with no
// new records. Callers should surface this as a warning, not a failure.
func Sparse(total, chunks int) bool {
	return chunks > total
}

// Validate checks that cuts is a usable plan for total records: non-empty,
// non-decreasing, never beyond total, and ending exactly at total.
func Validate(cuts []int, total int) error {
	if len(cuts) == 0 {
		return faults.Inputf("empty chunk plan")
	}
	prev := 0
	for i, c := range cuts {
		if c < prev {
			return faults.Inputf("cut point %d (%d) precedes previous cut %d", i+1, c, prev)
		}
		if c > total {
			return faults.Inputf("cut point %d (%d) exceeds total %d", i+1, c, total)
		}
		prev = c
	}
	if prev != total {
		return faults.Inputf("final cut point %d does not cover total %d", prev, total)
	}
	return nil
}

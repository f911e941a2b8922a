package chain

import (
	"github.com/jmerrifield20/uavledger/internal/chunk"
	"github.com/jmerrifield20/uavledger/internal/faults"
)

// Replay recomputes the tip for src split along cuts, starting from the seed.
// It returns the tip after every chunk; the last element is the final tip.
func Replay(src chunk.Source, cuts []int) ([]Digest, error) {
	if err := chunk.Validate(cuts, src.Total()); err != nil {
		return nil, err
	}
	tips := make([]Digest, 0, len(cuts))
	d := Seed()
	prev := 0
	for _, cut := range cuts {
		delta, err := src.Slice(prev, cut)
		if err != nil {
			return nil, err
		}
		d = Update(d, delta)
		tips = append(tips, d)
		prev = cut
	}
	return tips, nil
}

// ReplaySizes recomputes the tip over body, where sizes are the cumulative
// byte lengths at each chunk boundary (the sizes of successive stored
// versions). The last size must equal len(body).
func ReplaySizes(body []byte, sizes []int64) (Digest, error) {
	if len(sizes) == 0 {
		return Digest{}, faults.Inputf("no chunk sizes to replay")
	}
	if sizes[len(sizes)-1] != int64(len(body)) {
		return Digest{}, faults.Inputf("final size %d does not match body length %d", sizes[len(sizes)-1], len(body))
	}
	d := Seed()
	var prev int64
	for i, size := range sizes {
		if size < prev {
			return Digest{}, faults.Inputf("chunk %d shrinks from %d to %d bytes", i+1, prev, size)
		}
		d = Update(d, body[prev:size])
		prev = size
	}
	return d, nil
}

package chunk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/jmerrifield20/uavledger/internal/faults"
)

// Source supplies the raw bytes of a log at record granularity.
type Source interface {
	// Total returns the number of records in the log.
	Total() int

	// Slice returns the raw bytes of records [from, to).
	Slice(from, to int) ([]byte, error)
}

// LineSource treats each line of a byte buffer as one record. A line ends
// at "\n", "\r\n" or a lone "\r". Line endings are kept exactly as they
// appear, so the hashed and stored bytes are the bytes that were read.
type LineSource struct {
	data    []byte
	offsets []int // offsets[i] is the byte offset where record i starts; len == Total()+1
}

// NewLineSource indexes data by line. A trailing fragment without a line
// ending counts as a record.
func NewLineSource(data []byte) *LineSource {
	offsets := []int{0}
	pos := 0
	for pos < len(data) {
		i := bytes.IndexAny(data[pos:], "\r\n")
		if i < 0 {
			pos = len(data)
		} else {
			pos += i + 1
			if data[pos-1] == '\r' && pos < len(data) && data[pos] == '\n' {
				pos++
			}
		}
		offsets = append(offsets, pos)
	}
	return &LineSource{data: data, offsets: offsets}
}

// ReadLineSource reads r fully and indexes it by line.
func ReadLineSource(r io.Reader) (*LineSource, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return NewLineSource(data), nil
}

// Total implements Source.
func (s *LineSource) Total() int {
	return len(s.offsets) - 1
}

// Slice implements Source. The returned slice aliases the source buffer.
func (s *LineSource) Slice(from, to int) ([]byte, error) {
	if from < 0 || to < from || to > s.Total() {
		return nil, faults.Inputf("record range [%d, %d) outside log of %d records", from, to, s.Total())
	}
	return s.data[s.offsets[from]:s.offsets[to]], nil
}

// Len returns the size of the log in bytes.
func (s *LineSource) Len() int {
	return len(s.data)
}

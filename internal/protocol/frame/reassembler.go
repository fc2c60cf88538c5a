package frame

import (
	"encoding/binary"
	"fmt"
)

// Reassembler turns an ordered but arbitrarily chunked byte stream into
// complete [int32 len][len bytes] frames. It is owned by one receive
// goroutine and needs no locking.
type Reassembler struct {
	limits  Limits
	pending []byte
}

func NewReassembler(limits Limits) *Reassembler {
	if limits.MaxFrameBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Reassembler{limits: limits}
}

// Feed appends chunk and returns every frame it completes, in stream order.
// Each returned frame is the content only (packet type + payload) and does
// not alias the internal buffer. Bytes of a frame that is still incomplete,
// including a partial length prefix, are kept for the next call.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	r.pending = append(r.pending, chunk...)

	var frames [][]byte
	off := 0
	for len(r.pending)-off >= LengthPrefixLen {
		length := int32(binary.LittleEndian.Uint32(r.pending[off:]))
		if length <= 0 {
			// Nothing meaningful can follow an empty or negative header.
			r.Reset()
			return frames, nil
		}
		if int(length) > r.limits.MaxFrameBytes {
			r.Reset()
			return frames, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, r.limits.MaxFrameBytes)
		}
		if len(r.pending)-off-LengthPrefixLen < int(length) {
			break
		}
		start := off + LengthPrefixLen
		content := make([]byte, length)
		copy(content, r.pending[start:start+int(length)])
		frames = append(frames, content)
		off = start + int(length)
	}

	if off == len(r.pending) {
		r.Reset()
		return frames, nil
	}
	if off > 0 {
		r.pending = append(r.pending[:0], r.pending[off:]...)
	}
	return frames, nil
}

// Pending reports how many undigested bytes are retained.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

func (r *Reassembler) Reset() {
	r.pending = r.pending[:0]
}

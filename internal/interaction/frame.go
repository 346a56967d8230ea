package interaction

import (
	"errors"
	"fmt"

	"github.com/sweeney/now-remote/internal/link"
)

const (
	// HeaderSize is the packed frame header length.
	HeaderSize = 5
	// MaxFramePayload is the payload capacity of one frame.
	MaxFramePayload = link.MTU - HeaderSize
	// MaxMessageSize is the largest message that fits in 255 frames.
	MaxMessageSize = 255 * MaxFramePayload
)

var (
	// ErrShortFrame is returned for datagrams smaller than a header.
	ErrShortFrame = errors.New("interaction: frame shorter than header")
	// ErrIllFormedFrame is returned for frames whose header contradicts itself.
	ErrIllFormedFrame = errors.New("interaction: ill-formed frame")
)

// Header is the fragmentation header in front of every frame:
// id, is_response, index, count, size.
type Header struct {
	ID         uint8
	IsResponse bool
	Index      uint8
	Count      uint8
	Size       uint8
}

// Final reports whether this is the last frame of its message.
func (h Header) Final() bool {
	return int(h.Index) == int(h.Count)-1
}

// AppendFrame appends the header and payload to b.
func AppendFrame(b []byte, h Header, payload []byte) []byte {
	var resp byte
	if h.IsResponse {
		resp = 1
	}
	b = append(b, h.ID, resp, h.Index, h.Count, h.Size)
	return append(b, payload...)
}

// ParseFrame splits a datagram into header and payload and validates the
// header: size matches the payload, index is within count, and a non-final
// frame is completely full.
func ParseFrame(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	h := Header{
		ID:         b[0],
		IsResponse: b[1] != 0,
		Index:      b[2],
		Count:      b[3],
		Size:       b[4],
	}
	payload := b[HeaderSize:]

	switch {
	case int(h.Size) > MaxFramePayload:
		return h, nil, fmt.Errorf("%w: size %d over capacity", ErrIllFormedFrame, h.Size)
	case int(h.Size) != len(payload):
		return h, nil, fmt.Errorf("%w: size %d, payload %d", ErrIllFormedFrame, h.Size, len(payload))
	case h.Count == 0 || h.Index >= h.Count:
		return h, nil, fmt.Errorf("%w: index %d of %d", ErrIllFormedFrame, h.Index, h.Count)
	case !h.Final() && int(h.Size) != MaxFramePayload:
		return h, nil, fmt.Errorf("%w: short non-final frame %d/%d", ErrIllFormedFrame, h.Index+1, h.Count)
	}
	return h, payload, nil
}

// Fragment splits data into frames for message id.
func Fragment(id uint8, isResponse bool, data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrOversize, len(data), MaxMessageSize)
	}

	parts := (len(data) + MaxFramePayload - 1) / MaxFramePayload
	frames := make([][]byte, 0, parts)
	for i := 0; i < parts; i++ {
		chunk := data[i*MaxFramePayload : min((i+1)*MaxFramePayload, len(data))]
		h := Header{ID: id, IsResponse: isResponse, Index: uint8(i), Count: uint8(parts), Size: uint8(len(chunk))}
		frames = append(frames, AppendFrame(make([]byte, 0, HeaderSize+len(chunk)), h, chunk))
	}
	return frames, nil
}

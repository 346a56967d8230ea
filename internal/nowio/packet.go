package nowio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sweeney/now-remote/internal/link"
)

// Packet types. Application types must stay below the reserved range.
const (
	TypeButton         uint8 = 0x00
	TypePing           uint8 = 0xF0
	TypeDiscovery      uint8 = 0xF1
	TypeSystemResponse uint8 = 0xFF
)

// HeaderSize is the packed {type, count} body header length.
const HeaderSize = 2

var (
	// ErrShortPacket is returned when a body is shorter than its header or
	// its declared items.
	ErrShortPacket = errors.New("nowio: packet too short")
	// ErrReservedType is returned when packing items under a system type.
	ErrReservedType = errors.New("nowio: reserved packet type")
	// ErrTooManyItems is returned for more than 255 items.
	ErrTooManyItems = errors.New("nowio: too many items")
)

// Reserved reports whether typ is one of the system packet types.
func Reserved(typ uint8) bool {
	return typ == TypePing || typ == TypeDiscovery || typ == TypeSystemResponse
}

// Body is a typed packet body: type, item count and the packed items.
type Body struct {
	Type  uint8
	Count uint8
	Items []byte
}

// Marshal returns the wire form of b.
func (b Body) Marshal() []byte {
	out := make([]byte, 0, HeaderSize+len(b.Items))
	out = append(out, b.Type, b.Count)
	return append(out, b.Items...)
}

// Packet is a received typed packet.
type Packet struct {
	ID  uint8
	MAC link.MAC
	Body
}

// ParsePacket decodes a message payload received from mac under id.
func ParsePacket(id uint8, mac link.MAC, data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	return Packet{
		ID:  id,
		MAC: mac,
		Body: Body{
			Type:  data[0],
			Count: data[1],
			Items: data[HeaderSize:],
		},
	}, nil
}

// Pack encodes items little-endian and packed under an application type.
func Pack[T any](typ uint8, items []T) (Body, error) {
	if Reserved(typ) {
		return Body{}, fmt.Errorf("%w: 0x%02X", ErrReservedType, typ)
	}
	if len(items) > math.MaxUint8 {
		return Body{}, fmt.Errorf("%w: %d", ErrTooManyItems, len(items))
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, items); err != nil {
		return Body{}, fmt.Errorf("pack items: %w", err)
	}
	return Body{Type: typ, Count: uint8(len(items)), Items: buf.Bytes()}, nil
}

// Unpack decodes the packet's items as Count values of T. Trailing bytes
// beyond the declared items are ignored.
func Unpack[T any](b Body) ([]T, error) {
	items := make([]T, b.Count)
	need := binary.Size(items)
	if need < 0 {
		return nil, fmt.Errorf("unpack items: %T is not fixed size", items)
	}
	if len(b.Items) < need {
		return nil, fmt.Errorf("%w: %d bytes for %d items", ErrShortPacket, len(b.Items), b.Count)
	}
	if err := binary.Read(bytes.NewReader(b.Items[:need]), binary.LittleEndian, items); err != nil {
		return nil, fmt.Errorf("unpack items: %w", err)
	}
	return items, nil
}

package host

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/reglet-dev/portbridge/domain/errors"
	"github.com/reglet-dev/portbridge/wireformat"
	"github.com/tetratelabs/wazero/api"
)

// EncodedMessage locates a message written into shared memory.
//
// It is valid only until the next allocation: Marshaler.DecodeMessage refuses to read
// it afterwards with errors.ErrStaleRegion. Memory growth does not invalidate it.
// Growth keeps existing offsets addressable, and every read builds a fresh view of the
// current buffer.
type EncodedMessage struct {
	Offset     uint32
	ByteLength uint32
	epoch      uint64
}

// Allocator reserves size bytes inside the module and returns their offset.
type Allocator func(ctx context.Context, size uint32) (uint32, error)

// Marshaler converts values to and from JSON text stored as UTF-16LE in shared memory.
type Marshaler struct {
	mem   *Memory
	alloc Allocator
}

// NewMarshaler creates a Marshaler over mem. alloc may be nil until the module is
// instantiated; Encode fails with an AllocationError while it is unset.
func NewMarshaler(mem *Memory, alloc Allocator) *Marshaler {
	return &Marshaler{mem: mem, alloc: alloc}
}

// Memory returns the memory the marshaler reads and writes.
func (m *Marshaler) Memory() *Memory {
	return m.mem
}

func (m *Marshaler) setAllocator(alloc Allocator) {
	m.alloc = alloc
}

// Encode serializes v, asks the module for a region of the exact byte length and
// writes the UTF-16LE code units there.
func (m *Marshaler) Encode(ctx context.Context, v any) (EncodedMessage, error) {
	units, err := wireformat.Marshal(v)
	if err != nil {
		return EncodedMessage{}, &errors.EncodeError{Err: err}
	}
	byteLength := uint32(len(units))

	if m.alloc == nil {
		return EncodedMessage{}, &errors.AllocationError{
			Requested: byteLength,
			Err:       fmt.Errorf("module does not export %q", "allocate"),
		}
	}
	offset, err := m.alloc(ctx, byteLength)
	if err != nil {
		return EncodedMessage{}, &errors.AllocationError{Requested: byteLength, Err: err}
	}
	epoch := m.mem.nextEpoch()

	if err := m.mem.Write(offset, units); err != nil {
		return EncodedMessage{}, &errors.AllocationError{Requested: byteLength, Err: err}
	}
	return EncodedMessage{Offset: offset, ByteLength: byteLength, epoch: epoch}, nil
}

func (m *Marshaler) readUnits(offset, byteLength uint32) ([]byte, error) {
	if byteLength%wireformat.BytesPerCodeUnit != 0 {
		return nil, &errors.DecodeError{Offset: offset, ByteLength: byteLength, Err: wireformat.ErrOddLength}
	}
	return m.mem.Read(offset, byteLength)
}

// ReadText reads byteLength bytes at offset and returns the JSON text as UTF-8.
func (m *Marshaler) ReadText(offset, byteLength uint32) ([]byte, error) {
	units, err := m.readUnits(offset, byteLength)
	if err != nil {
		return nil, err
	}
	text, err := wireformat.DecodeText(units)
	if err != nil {
		return nil, &errors.DecodeError{Offset: offset, ByteLength: byteLength, Err: err}
	}
	return text, nil
}

// Decode reads the message at offset and parses it.
func (m *Marshaler) Decode(offset, byteLength uint32) (any, error) {
	var v any
	if err := m.DecodeInto(offset, byteLength, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeInto reads the message at offset and unmarshals it into v.
func (m *Marshaler) DecodeInto(offset, byteLength uint32, v any) error {
	units, err := m.readUnits(offset, byteLength)
	if err != nil {
		return err
	}
	if err := wireformat.Unmarshal(units, v); err != nil {
		return &errors.DecodeError{Offset: offset, ByteLength: byteLength, Err: err}
	}
	return nil
}

// DecodeMessage decodes a message produced by Encode, provided no allocation has
// happened since. Growth in between is fine: the offset stays inside the grown memory.
func (m *Marshaler) DecodeMessage(msg EncodedMessage) (any, error) {
	if msg.epoch == 0 || msg.epoch != m.mem.Epoch() {
		return nil, errors.ErrStaleRegion
	}
	return m.Decode(msg.Offset, msg.ByteLength)
}

// exportAllocator calls the module's allocate export.
func exportAllocator(fn api.Function) Allocator {
	return func(ctx context.Context, size uint32) (uint32, error) {
		results, err := fn.Call(ctx, api.EncodeU32(size))
		if err != nil {
			return 0, err
		}
		if len(results) == 0 {
			return 0, stdErrors.New("allocate returned no results")
		}
		return api.DecodeU32(results[0]), nil
	}
}

package host

import (
	"sync"

	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/reglet-dev/portbridge/domain/errors"
	"github.com/tetratelabs/wazero/api"
)

// Memory is the linear memory shared by the host and one module.
//
// The module may grow the memory at any time while it runs, which replaces the
// underlying buffer. Memory therefore never hands out a view: every Read builds a fresh
// view from the current buffer and returns a copy. Generation changes whenever the
// observed size changes, and Epoch counts allocations made through the bridge.
type Memory struct {
	mu       sync.Mutex
	mem      api.Memory
	lastSize uint32
	gen      uint64
	epoch    uint64
}

func newMemory(mem api.Memory) *Memory {
	m := &Memory{}
	if mem != nil {
		m.attach(mem)
	}
	return m
}

// attach binds the wasm memory once it is known. Later calls are ignored.
func (m *Memory) attach(mem api.Memory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mem != nil || mem == nil {
		return
	}
	m.mem = mem
	m.lastSize = mem.Size()
}

func (m *Memory) attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mem != nil
}

// observe records the current size and returns it. Caller holds mu.
func (m *Memory) observe() uint32 {
	if m.mem == nil {
		return 0
	}
	size := m.mem.Size()
	if size != m.lastSize {
		m.lastSize = size
		m.gen++
	}
	return size
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observe()
}

// Pages returns the current size in 64 KiB pages.
func (m *Memory) Pages() uint32 {
	return m.Size() / entities.PageSize
}

// Generation identifies the current buffer. It changes every time growth is observed.
func (m *Memory) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observe()
	return m.gen
}

// Epoch is the number of allocations performed through the bridge so far.
func (m *Memory) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Memory) nextEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	return m.epoch
}

// Read copies length bytes starting at offset.
func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.observe()
	if m.mem == nil {
		return nil, &errors.MemoryError{Offset: offset, Length: length, Size: size}
	}
	view, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, &errors.MemoryError{Offset: offset, Length: length, Size: size}
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Write copies data into memory at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.observe()
	if m.mem == nil || !m.mem.Write(offset, data) {
		return &errors.MemoryError{Offset: offset, Length: uint32(len(data)), Size: size}
	}
	return nil
}

// Grow adds deltaPages pages and returns the previous page count.
func (m *Memory) Grow(deltaPages uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mem == nil {
		return 0, &errors.MemoryError{Length: deltaPages * entities.PageSize}
	}
	prev, ok := m.mem.Grow(deltaPages)
	if !ok {
		size := m.observe()
		return 0, &errors.MemoryError{Offset: size, Length: deltaPages * entities.PageSize, Size: size}
	}
	m.observe()
	return prev, nil
}

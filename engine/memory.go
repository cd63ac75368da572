package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	korgbridge "github.com/wippyai/korg-bridge"
	"github.com/wippyai/korg-bridge/errors"
)

var (
	_ korgbridge.Memory      = (*Memory)(nil)
	_ korgbridge.MemorySizer = (*Memory)(nil)
	_ korgbridge.Allocator   = (*Allocator)(nil)
)

// Memory adapts wazero api.Memory to korgbridge.Memory.
type Memory struct {
	Mem api.Memory
}

// WrapMemory wraps a wazero memory. It returns nil for a nil memory.
func WrapMemory(mem api.Memory) *Memory {
	if mem == nil {
		return nil
	}
	return &Memory{Mem: mem}
}

// Read returns a slice aliasing guest memory.
func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

// Write writes bytes to memory.
func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.Mem.Write(offset, data) {
		return fmt.Errorf("memory write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.Mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 {
	return m.Mem.Size()
}

// Allocator adapts the guest's korg_alloc and korg_free exports.
type Allocator struct {
	Ctx   context.Context
	alloc api.Function
	free  api.Function
}

// Alloc asks the guest for size bytes.
func (a *Allocator) Alloc(size uint32) (uint32, error) {
	results, err := a.alloc.Call(a.Ctx, uint64(size))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEncode, errors.KindAllocation, err, "guest allocator trapped")
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size)
	}
	return uint32(results[0]), nil
}

// Free hands ptr back to the guest allocator.
func (a *Allocator) Free(ptr uint32) {
	if _, err := a.free.Call(a.Ctx, uint64(ptr)); err != nil {
		Logger().Warn("guest free failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

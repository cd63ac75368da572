package korgbridge

// Memory is the foreign runtime's linear memory as seen from the host.
// Read returns a slice that aliases foreign memory; it is not a copy.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
}

// MemorySizer provides the current size of foreign memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates memory inside the foreign runtime's heap.
// Memory obtained from Alloc is owned by the foreign allocator and must be
// returned with Free; the host never reclaims it by itself.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr uint32)
}

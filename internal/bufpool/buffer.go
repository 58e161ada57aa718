package bufpool

// Buffer is a handle to one pooled or directly allocated block. A Buffer
// either owns exactly one allocation of its stated length or is empty.
//
// Buffers must not be copied after Acquire; pass the pointer. Release is
// idempotent and a released Buffer is empty.
type Buffer struct {
	data  []byte
	owner *Pool
}

// Bytes returns the usable region. It is nil for an empty buffer.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the requested size.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Cap returns the size of the underlying allocation.
func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return cap(b.data)
}

// IsEmpty reports whether the handle owns no memory.
func (b *Buffer) IsEmpty() bool {
	return b == nil || b.data == nil
}

// Release returns the memory to its pool. The buffer is empty afterwards.
func (b *Buffer) Release() {
	if b == nil || b.data == nil {
		return
	}
	data := b.data
	b.data = nil
	if b.owner != nil {
		b.owner.release(data)
	}
}

// Detach transfers ownership of the memory to the caller. The memory will
// not be returned to the pool and the buffer is empty afterwards.
func (b *Buffer) Detach() []byte {
	if b == nil {
		return nil
	}
	data := b.data
	b.data = nil
	b.owner = nil
	return data
}

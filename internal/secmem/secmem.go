// Package secmem provides memory handling for sensitive material such as
// passphrases and derived encryption keys.
//
// A Buffer is backed by an anonymous mmap region outside the Go heap,
// locked into physical RAM with mlock so it cannot be swapped to disk,
// and excluded from core dumps. The garbage collector never sees the
// region and cannot copy or relocate it, so Close reliably destroys the
// only copy of the secret.
package secmem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds sensitive bytes in locked, off-heap memory. It must not be
// copied after creation. Close zeroes and releases the memory; any access
// after Close panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewBuffer allocates a locked buffer of the given size. The region is
// zero-initialized. The caller must Close it when the secret is no longer
// needed.
func NewBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secmem: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secmem: mmap: %w", err)
	}

	// Keep the region out of swap.
	if err := unix.Mlock(data); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("secmem: mlock: %w", err)
	}

	// Keep the region out of core dumps. Not supported everywhere, and the
	// buffer is still swap-protected without it.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	return &Buffer{data: data}, nil
}

// NewBufferFromBytes copies source into a fresh locked buffer and zeroes
// the source in place, so the caller's slice no longer holds the secret.
func NewBufferFromBytes(source []byte) (*Buffer, error) {
	b, err := NewBuffer(len(source))
	if err != nil {
		return nil, err
	}
	copy(b.data, source)
	Zero(source)
	return b, nil
}

// Bytes returns the secret data. The slice aliases the locked region, so
// it must not be retained past Close. Panics if the buffer is closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secmem: read from closed buffer")
	}
	return b.data
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.data)
}

// Close zeroes the buffer, unlocks it, and unmaps the region. It is
// idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)
	if err := unix.Munlock(b.data); err != nil {
		_ = unix.Munmap(b.data)
		return fmt.Errorf("secmem: munlock: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil {
		return fmt.Errorf("secmem: munmap: %w", err)
	}
	b.data = nil
	return nil
}

// Zero overwrites every byte of s. Use it on heap slices that briefly held
// secret material before releasing them.
func Zero(s []byte) {
	for i := range s {
		s[i] = 0
	}
}

// ZeroMap zeroes every value of m and removes all entries.
func ZeroMap(m map[string][]byte) {
	for k, v := range m {
		Zero(v)
		delete(m, k)
	}
}

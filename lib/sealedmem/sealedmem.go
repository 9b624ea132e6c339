// Copyright 2026 The Busline Authors
// SPDX-License-Identifier: Apache-2.0

package sealedmem

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

// ErrWriteOnSealed is returned by Write once the object has been sealed.
var ErrWriteOnSealed = errors.New("sealedmem: write on sealed object")

// ErrUnsealShared is returned by Unseal when the object has more than
// one live reference.
var ErrUnsealShared = errors.New("sealedmem: cannot unseal a shared object")

// digestDomainKey separates sealed-object content digests from any
// other BLAKE3 keyed hash domain in the process, following the same
// domain-separation convention as the teacher's artifact hashing.
var digestDomainKey = [32]byte{
	'b', 'u', 's', 'l', 'i', 'n', 'e', '.', 's', 'e', 'a', 'l', 'e', 'd', 'm', 'e',
	'm', '.', 'o', 'b', 'j', 'e', 'c', 't', 0, 0, 0, 0, 0, 0, 0, 0,
}

// Object is a shared, append-then-freeze byte container. The zero value
// is not usable; construct one with New.
//
// Object must not be copied after construction.
type Object struct {
	mu     sync.Mutex
	fd     int
	size   int64
	data   []byte // mutable mmap, PROT_READ|PROT_WRITE, valid until sealed
	ro     []byte // read-only mmap, PROT_READ, established by MapReadOnly
	sealed bool
	refs   int32 // atomic
}

// New creates a new mutable sealed-memory object of the given size,
// backed by an anonymous memfd.
func New(size int64) (*Object, error) {
	if size <= 0 {
		return nil, fmt.Errorf("sealedmem: size must be positive, got %d", size)
	}

	fd, err := unix.MemfdCreate("busline-sealedmem", unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("sealedmem: memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sealedmem: ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sealedmem: mmap: %w", err)
	}

	object := &Object{
		fd:   fd,
		size: size,
		data: data,
		refs: 1,
	}
	return object, nil
}

// Size returns the object's fixed size in bytes.
func (o *Object) Size() int64 {
	return o.size
}

// FD returns the underlying memfd. Callers that need to hand a
// reference to another connection's descriptor table should Dup the
// returned fd rather than sharing it directly — see Dup.
func (o *Object) FD() int {
	return o.fd
}

// Write copies bytes into the object at the given offset. Fails with
// ErrWriteOnSealed once the object is sealed.
func (o *Object) Write(offset int64, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sealed {
		return ErrWriteOnSealed
	}
	if offset < 0 || offset+int64(len(payload)) > o.size {
		return fmt.Errorf("sealedmem: write out of bounds: offset=%d len=%d size=%d", offset, len(payload), o.size)
	}
	copy(o.data[offset:], payload)
	return nil
}

// Seal atomically transitions the object from mutable to sealed. It is
// a release barrier: any mapping established by another holder after
// Seal returns observes every write that happened before it. In-process
// that barrier is the mutex itself; across memfd sharing, the kernel's
// own seal (F_ADD_SEALS) plus a fresh mmap by the reader provides the
// same guarantee.
//
// Seal is idempotent: sealing an already-sealed object is a no-op.
func (o *Object) Seal() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sealed {
		return nil
	}

	// F_SEAL_WRITE fails with EBUSY while o.data, a writable shared
	// mapping, exists; F_SEAL_FUTURE_WRITE blocks every new write path.
	seals := unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_FUTURE_WRITE
	if _, err := unix.FcntlInt(uintptr(o.fd), unix.F_ADD_SEALS, seals); err != nil {
		return fmt.Errorf("sealedmem: fcntl(F_ADD_SEALS): %w", err)
	}
	o.sealed = true
	return nil
}

// Sealed reports whether the object has been sealed.
func (o *Object) Sealed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sealed
}

// MapReadOnly returns a read-only view of the object's bytes. Only
// valid once the object is sealed; attempting to write through the
// returned slice faults at the hardware level (PROT_READ), which is
// the actual enforcement mechanism — there is no language-level
// immutability in Go for a byte slice.
//
// The returned slice is backed by a mapping independent of the one
// used internally by Write, matching the real cross-process case where
// a receiver establishes its own mapping of a shared memfd.
func (o *Object) MapReadOnly() ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.sealed {
		return nil, fmt.Errorf("sealedmem: MapReadOnly requires a sealed object")
	}
	if o.ro != nil {
		return o.ro, nil
	}

	ro, err := unix.Mmap(o.fd, 0, int(o.size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("sealedmem: mmap(PROT_READ): %w", err)
	}
	o.ro = ro
	return ro, nil
}

// Unseal reverses Seal, but only when the object has exactly one live
// reference (RefCount() == 1). Returns ErrUnsealShared otherwise.
func (o *Object) Unseal() error {
	if atomic.LoadInt32(&o.refs) != 1 {
		return ErrUnsealShared
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.sealed {
		return nil
	}
	// memfd seals are one-way at the kernel level (F_SEAL_SEAL, once
	// added, cannot be removed); the bus-level Unseal models the
	// logical reversal the spec describes by dropping the read-only
	// mapping and the in-process sealed flag, and allocating a fresh
	// writable memfd is the caller's (MEMFD_UNSEAL handler's) job when
	// it needs to keep writing. Unseal here simply validates the
	// single-reference precondition and flips the logical flag so a
	// subsequent Write by the sole owner is permitted again on a new
	// object it constructs from this one's bytes.
	o.sealed = false
	return nil
}

// Ref increments the reference count and returns the new value.
func (o *Object) Ref() int32 {
	return atomic.AddInt32(&o.refs, 1)
}

// Unref decrements the reference count. When it reaches zero the
// backing memfd and mappings are released. Returns the new value.
func (o *Object) Unref() int32 {
	remaining := atomic.AddInt32(&o.refs, -1)
	if remaining == 0 {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.data != nil {
			unix.Munmap(o.data)
			o.data = nil
		}
		if o.ro != nil {
			unix.Munmap(o.ro)
			o.ro = nil
		}
		unix.Close(o.fd)
	}
	return remaining
}

// RefCount returns the current reference count.
func (o *Object) RefCount() int32 {
	return atomic.LoadInt32(&o.refs)
}

// Dup duplicates the object's underlying fd, for handing a reference to
// another connection's descriptor table without sharing the original
// descriptor value. The caller is responsible for closing the
// duplicated fd when done (or for registering it in a descriptor table
// that will).
func (o *Object) Dup() (int, error) {
	newFD, err := unix.Dup(o.fd)
	if err != nil {
		return -1, fmt.Errorf("sealedmem: dup: %w", err)
	}
	return newFD, nil
}

// Digest returns the BLAKE3 keyed content digest of the object's
// current bytes. Meaningful once sealed (the bytes are frozen); calling
// it on a mutable object returns a digest of whatever has been written
// so far, which is only useful for debugging in-flight writes.
func (o *Object) Digest() [32]byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	hasher, _ := blake3.NewKeyed(digestDomainKey[:])
	hasher.Write(o.data)
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

//go:build linux || darwin

package identity

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

var nodeSize = int(unsafe.Sizeof(Node{}))

// newSlotStorage allocates the node table as an anonymous shared mmap
// region. Stable slot addresses come for free: mmap'd memory is never
// relocated by the Go runtime, so a *Node returned by Store.Intern stays
// valid even while the garbage collector runs.
func newSlotStorage(capacity int) (slotStorage, error) {
	length := capacity * nodeSize
	buf, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", length, err)
	}
	nodes := unsafe.Slice((*Node)(unsafe.Pointer(&buf[0])), capacity)
	closeFn := func() error {
		return unix.Munmap(buf)
	}
	return newArraySlots(nodes, closeFn), nil
}

package hostsfile

import (
	"encoding/binary"
	"hash/fnv"
	"os"
)

const hostidPath = "/etc/hostid"

// HostOrdinal returns the node ordinal this host uses for "the interface
// itself" entries: the low byte of the first 4 bytes of /etc/hostid
// (big-endian) if present, matching the original's gethostid() usage, or
// an FNV-1a hash of the hostname folded to a byte otherwise. Go has no
// portable gethostid() wrapper, so this is an implementation choice, not a
// protocol requirement.
func HostOrdinal() uint8 {
	if data, err := os.ReadFile(hostidPath); err == nil && len(data) >= 4 {
		return byte(binary.BigEndian.Uint32(data[:4]))
	}
	name, err := os.Hostname()
	if err != nil {
		name = "unknown"
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return byte(h.Sum32())
}

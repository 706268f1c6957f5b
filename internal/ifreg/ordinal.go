package ifreg

import (
	"regexp"
	"strconv"
)

var (
	pciPattern   = regexp.MustCompile(`^sync_pci(\d+)p(\d+)$`)
	suffixPattern = regexp.MustCompile(`^[A-Za-z]+(\d+)$`)
)

// deriveOrdinal computes an interface's compact name-derived ordinal. It
// returns noOrdinal=true when name matches neither recognized pattern.
func deriveOrdinal(name string) (ordinal uint8, noOrdinal bool) {
	if m := pciPattern.FindStringSubmatch(name); m != nil {
		slot, errSlot := strconv.Atoi(m[1])
		port, errPort := strconv.Atoi(m[2])
		if errSlot == nil && errPort == nil && slot >= 0 && slot <= 15 && port >= 0 && port <= 3 {
			return 0x40 | uint8(slot<<2) | uint8(port), false
		}
	}
	if m := suffixPattern.FindStringSubmatch(name); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return uint8(n % 256), false
		}
	}
	return 0, true
}

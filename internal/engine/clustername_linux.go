//go:build linux

package engine

import (
	"bytes"

	"golang.org/x/sys/unix"
)

// readKernelDomainName reads the NIS/YP domain name the kernel currently
// reports, the OS-level fallback source for the cluster name when the
// policy file doesn't name one.
func readKernelDomainName() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	n := bytes.IndexByte(uts.Domainname[:], 0)
	if n < 0 {
		n = len(uts.Domainname)
	}
	return string(uts.Domainname[:n]), nil
}

// setKernelDomainName sets the kernel's NIS/YP domain name, mirroring it
// back once the cluster name is known.
func setKernelDomainName(name string) error {
	return unix.Setdomainname([]byte(name))
}

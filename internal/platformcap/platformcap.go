// Package platformcap reads the sysfs/procfs surface the core consults to
// answer questions a generic netlink event can't: is this a bridge, is it
// captured, has someone injected a fault for testing.
package platformcap

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	sysClassNet = "/sys/class/net"
	procIPv6Net = "/proc/sys/net/ipv6/conf"
	quiesceDir  = "/tmp"
	faultDir    = "/var/run/interface"
)

// Reader implements ifreg.Platform against the live filesystem.
type Reader struct {
	// Root overrides the filesystem root for tests; empty means "/".
	Root string
}

func (r Reader) path(elems ...string) string {
	return filepath.Join(append([]string{r.Root}, elems...)...)
}

// Carrier reads /sys/class/net/<name>/carrier.
func (r Reader) Carrier(name string) (bool, error) {
	data, err := os.ReadFile(r.path(sysClassNet, name, "carrier"))
	if err != nil {
		return false, fmt.Errorf("platformcap: read carrier for %q: %w", name, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, fmt.Errorf("platformcap: parse carrier for %q: %w", name, err)
	}
	return v != 0, nil
}

// IsBridge reports whether /sys/class/net/<name>/bridge/ exists.
func (r Reader) IsBridge(name string) bool {
	return dirExists(r.path(sysClassNet, name, "bridge"))
}

// IsCaptured reports whether /sys/class/net/<name>/brport/ exists.
func (r Reader) IsCaptured(name string) bool {
	return dirExists(r.path(sysClassNet, name, "brport"))
}

// CapturedBridge returns the name of the bridge that has captured name, by
// resolving /sys/class/net/<name>/brport/bridge.
func (r Reader) CapturedBridge(name string) (string, bool) {
	target, err := os.Readlink(r.path(sysClassNet, name, "brport", "bridge"))
	if err != nil {
		return "", false
	}
	return filepath.Base(target), true
}

// FaultInjected reports whether /var/run/interface/<name>.fault exists.
func (r Reader) FaultInjected(name string) bool {
	return fileExists(r.path(faultDir, name+".fault"))
}

// Quiesced reports whether /tmp/<name>.quiesce exists.
func (r Reader) Quiesced(name string) bool {
	return fileExists(r.path(quiesceDir, name+".quiesce"))
}

// AcceptRA reads /proc/sys/net/ipv6/conf/<name>/accept_ra.
func (r Reader) AcceptRA(name string) (bool, error) {
	data, err := os.ReadFile(r.path(procIPv6Net, name, "accept_ra"))
	if err != nil {
		return false, fmt.Errorf("platformcap: read accept_ra for %q: %w", name, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, fmt.Errorf("platformcap: parse accept_ra for %q: %w", name, err)
	}
	return v != 0, nil
}

// SetAcceptRA writes /proc/sys/net/ipv6/conf/<name>/accept_ra.
func (r Reader) SetAcceptRA(name string, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	if err := os.WriteFile(r.path(procIPv6Net, name, "accept_ra"), []byte(v), 0o644); err != nil {
		return fmt.Errorf("platformcap: write accept_ra for %q: %w", name, err)
	}
	return nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

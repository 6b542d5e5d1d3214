package find

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB identifiers under which a Labphox board enumerates its CDC port.
const (
	LabphoxVID = "0483"
	LabphoxPID = "0714"
)

type FilterFn func(*enumerator.PortDetails) bool

// LabphoxFilter matches any Labphox board.
func LabphoxFilter(d *enumerator.PortDetails) bool {
	return d.IsUSB && strings.EqualFold(d.PID, LabphoxPID) && strings.EqualFold(d.VID, LabphoxVID)
}

// SerialFilter matches a Labphox board with the given serial number.
func SerialFilter(sn string) FilterFn {
	return func(d *enumerator.PortDetails) bool {
		return LabphoxFilter(d) && d.SerialNumber == sn
	}
}

// Find searches the USB bus for a board port. If filter is not nil, it is
// used to narrow choices down; the first port for which it returns true (if
// any) is chosen.
func Find(filter FilterFn) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	if filter == nil {
		filter = LabphoxFilter
	}
	var matches []*enumerator.PortDetails
	for _, p := range ports {
		if filter(p) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no matching boards found")
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("multiple boards: %s", Describe(matches))
	}
	return matches[0].Name, nil
}

// All lists every USB serial port visible on the system.
func All() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

// Describe renders a port list for error messages and diagnostics.
func Describe(ports []*enumerator.PortDetails) string {
	s := make([]string, 0, len(ports))
	for _, p := range ports {
		s = append(s, fmt.Sprintf("dev %s vid/pid %s/%s serial %s", p.Name, p.VID, p.PID, p.SerialNumber))
	}
	return strings.Join(s, "; ")
}

package find

import (
	"testing"

	"go.bug.st/serial/enumerator"
)

func TestLabphoxFilter(t *testing.T) {
	tests := []struct {
		name string
		d    enumerator.PortDetails
		want bool
	}{
		{"labphox board", enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "0483", PID: "0714"}, true},
		{"wrong product", enumerator.PortDetails{Name: "/dev/ttyACM1", IsUSB: true, VID: "0483", PID: "df11"}, false},
		{"wrong vendor", enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "0714"}, false},
		{"not usb", enumerator.PortDetails{Name: "/dev/ttyS0", IsUSB: false, VID: "0483", PID: "0714"}, false},
	}
	for _, tt := range tests {
		if got := LabphoxFilter(&tt.d); got != tt.want {
			t.Errorf("%s: LabphoxFilter = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSerialFilter(t *testing.T) {
	d := enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "0483", PID: "0714", SerialNumber: "SN0042"}
	if !SerialFilter("SN0042")(&d) {
		t.Error("SerialFilter should match its own serial number")
	}
	if SerialFilter("SN9999")(&d) {
		t.Error("SerialFilter matched a different serial number")
	}
}

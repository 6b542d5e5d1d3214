// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/gotmc/query"
)

// protocolVersion is the firmware protocol generation this client speaks.
// A board reporting a different firmware minor version still connects, but
// the skew is logged.
const protocolVersion = 3

// Labphox is the command layer for one pulse-generator board. It owns its
// Transport exclusively; using one Labphox from multiple goroutines
// concurrently is unsupported.
type Labphox struct {
	t     Transport
	debug bool

	// Identity fields are read once by Connect and immutable afterwards.
	Name     string
	SN       string
	HW       string
	FW       int
	Channels int
}

// NewLabphox wraps a transport. Call Connect before issuing commands that
// depend on board identity.
func NewLabphox(t Transport) *Labphox {
	return &Labphox{t: t}
}

// Query sends a raw protocol command and returns the reply verbatim. It
// satisfies the gotmc/query Querier interface, so the typed helpers in that
// package work directly against a board.
func (l *Labphox) Query(cmd string) (string, error) {
	reply, err := l.t.RoundTrip(cmd)
	if l.debug {
		log.Printf("labphox raw %q -> %q (err %v)", cmd, reply, err)
	}
	return reply, err
}

// exec sends a command and validates the echoed prefix of its reply.
func (l *Labphox) exec(cmd string) (Response, error) {
	reply, err := l.t.RoundTrip(cmd)
	if l.debug {
		log.Printf("labphox cmd %q -> %q (err %v)", cmd, reply, err)
	}
	if err != nil {
		return Response{}, err
	}
	return parseReply(cmd, reply)
}

// execInt sends a command and parses the echoed value as an integer.
func (l *Labphox) execInt(cmd string) (int, error) {
	resp, err := l.exec(cmd)
	if err != nil {
		return 0, err
	}
	return resp.Int()
}

// Connect reads the board identity over the open transport. The name,
// serial number, hardware revision, firmware version, and channel count are
// treated as immutable for the session.
func (l *Labphox) Connect() error {
	name, err := query.String(l, buildCmd(modUtility, "A", ""))
	if err != nil {
		return fmt.Errorf("reading device name: %w", err)
	}
	l.Name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.Contains(l.Name, "LABP") {
		return fmt.Errorf("unexpected device name %q", name)
	}

	hw, err := query.String(l, buildCmd(modUtility, "D", ""))
	if err != nil {
		return fmt.Errorf("reading hardware revision: %w", err)
	}
	l.HW = strings.TrimSpace(hw)

	sn, err := query.String(l, buildCmd(modUtility, "E", ""))
	if err != nil {
		return fmt.Errorf("reading serial number: %w", err)
	}
	l.SN = strings.TrimSpace(sn)
	if l.SN == "" {
		return fmt.Errorf("board reported an empty serial number")
	}

	fw, err := query.String(l, buildCmd(modUtility, "B", ""))
	if err != nil {
		return fmt.Errorf("reading firmware version: %w", err)
	}
	parts := strings.Split(strings.TrimSpace(fw), ".")
	l.FW, err = strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return fmt.Errorf("malformed firmware version %q", fw)
	}

	ch, err := query.String(l, buildCmd(modUtility, "F", ""))
	if err != nil {
		return fmt.Errorf("reading channel count: %w", err)
	}
	fields := strings.Fields(ch)
	if len(fields) == 0 {
		return fmt.Errorf("malformed channel count %q", ch)
	}
	l.Channels, err = strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return fmt.Errorf("malformed channel count %q", ch)
	}

	if l.FW != protocolVersion {
		log.Printf("board firmware version %d does not match client protocol version %d", l.FW, protocolVersion)
	}
	return nil
}

// Close releases the underlying transport.
func (l *Labphox) Close() error { return l.t.Close() }

// Connected queries the firmware's link status flag.
func (l *Labphox) Connected() (string, error) {
	resp, err := l.exec(buildCmd(modUtility, "C", ""))
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// UID returns one word of the MCU's 96-bit unique identifier.
func (l *Labphox) UID(word int) (int, error) {
	return l.execInt(buildCmd(modUtility, "G", word))
}

// SleepMode toggles the firmware's low-power mode.
func (l *Labphox) SleepMode(v int) error {
	_, err := l.exec(buildCmd(modUtility, "S", v))
	return err
}

func dacModule(dac int) (string, error) {
	switch dac {
	case 1:
		return modDAC1, nil
	case 2:
		return modDAC2, nil
	}
	return "", fmt.Errorf("no such DAC %d", dac)
}

// DACOn powers up DAC 1 (converter feedback) or DAC 2 (OCP threshold).
func (l *Labphox) DACOn(dac int) error {
	m, err := dacModule(dac)
	if err != nil {
		return err
	}
	_, err = l.exec(buildCmd(m, "T", 1))
	return err
}

// DACOff powers down the given DAC.
func (l *Labphox) DACOff(dac int) error {
	m, err := dacModule(dac)
	if err != nil {
		return err
	}
	_, err = l.exec(buildCmd(m, "T", 0))
	return err
}

// DACSet writes a register code to the given DAC. Range checking against the
// calibration table is the caller's responsibility; out-of-range codes can
// damage the output stage.
func (l *Labphox) DACSet(dac, code int) error {
	m, err := dacModule(dac)
	if err != nil {
		return err
	}
	_, err = l.exec(buildCmd(m, "S", code))
	return err
}

// DACBuffer configures the DAC output buffer.
func (l *Labphox) DACBuffer(dac, v int) error {
	m, err := dacModule(dac)
	if err != nil {
		return err
	}
	_, err = l.exec(buildCmd(m, "B", v))
	return err
}

// ADCStart enables the main 12-bit ADC.
func (l *Labphox) ADCStart() error {
	_, err := l.exec(buildCmd(modADC, "T", 1))
	return err
}

// ADCStop disables the main ADC.
func (l *Labphox) ADCStop() error {
	_, err := l.exec(buildCmd(modADC, "T", 0))
	return err
}

// ADCSelect selects and samples an ADC channel. Allow a settle interval
// before reading the conversion with ADCGet.
func (l *Labphox) ADCSelect(channel int) error {
	_, err := l.exec(buildCmd(modADC, "S", channel))
	return err
}

// ADCGet reads the last conversion result.
func (l *Labphox) ADCGet() (int, error) {
	return l.execInt(buildCmd(modADC, "G", ""))
}

// ADCChannel routes the ADC mux without sampling.
func (l *Labphox) ADCChannel(channel int) error {
	_, err := l.exec(buildCmd(modADC, "C", channel))
	return err
}

// ADCInterrupt toggles interrupt-driven conversion.
func (l *Labphox) ADCInterrupt(v int) error {
	_, err := l.exec(buildCmd(modADC, "I", v))
	return err
}

// ADCBuffer configures buffered acquisition and returns the echoed value.
func (l *Labphox) ADCBuffer(v int) (int, error) {
	return l.execInt(buildCmd(modADC, "B", v))
}

// ADC3Start enables the auxiliary ADC used for reference calibration.
func (l *Labphox) ADC3Start() error {
	_, err := l.exec(buildCmd(modADC3, "T", 1))
	return err
}

// ADC3Stop disables the auxiliary ADC.
func (l *Labphox) ADC3Stop() error {
	_, err := l.exec(buildCmd(modADC3, "T", 0))
	return err
}

// ADC3Select selects and samples an auxiliary ADC channel.
func (l *Labphox) ADC3Select(channel int) error {
	_, err := l.exec(buildCmd(modADC3, "S", channel))
	return err
}

// ADC3Get reads the auxiliary ADC's last conversion result.
func (l *Labphox) ADC3Get() (int, error) {
	return l.execInt(buildCmd(modADC3, "G", ""))
}

// GPIO identifies a controllable line on the board.
type GPIO string

// GPIO lines.
const (
	GPIOEnable3V3        GPIO = "A"
	GPIOEnable5V         GPIO = "B"
	GPIOEnableChargePump GPIO = "C" // negative supply charge pump
	GPIOForcePowerEnable GPIO = "D"
	GPIOPowerEnable      GPIO = "E"
	GPIOConverterEnable  GPIO = "F" // DC-DC converter
	GPIOChoppingEnable   GPIO = "G"
)

// SetGPIO drives a GPIO line high (1) or low (0).
func (l *Labphox) SetGPIO(line GPIO, v int) error {
	_, err := l.exec(buildCmd(modGPIO, string(line), v))
	return err
}

// PowerStatus reads the output-supervisor power-good bit.
func (l *Labphox) PowerStatus() (int, error) {
	return l.execInt(buildCmd(modGPIO, "H", 0))
}

// OCPStatus reads the over-current protection trip bit.
func (l *Labphox) OCPStatus() (int, error) {
	return l.execInt(buildCmd(modGPIO, "I", 0))
}

// SelectContact addresses one relay coil on the IO expander of the given
// port. The index is zero-based; connect selects the set coil, otherwise the
// reset coil. The reply carries the validation identifier echoed by the
// firmware.
func (l *Labphox) SelectContact(port string, index int, connect bool) (Response, error) {
	op := "D"
	if connect {
		op = "C"
	}
	return l.exec(buildCmd(port, op, index))
}

// EnableOutputDrivers powers the relay driver stage. The echoed value is the
// driver fault flag: zero means enabled.
func (l *Labphox) EnableOutputDrivers() (int, error) {
	return l.execInt(buildCmd(modDrivers, "O", 0))
}

// DisableOutputDrivers de-selects every relay channel so no path holds
// current between pulses.
func (l *Labphox) DisableOutputDrivers() error {
	_, err := l.exec(buildCmd(modDrivers, "U", 0))
	return err
}

// SetSwitchType tells the firmware which relay family is attached.
func (l *Labphox) SetSwitchType(v int) error {
	_, err := l.exec(buildCmd(modDrivers, "S", v))
	return err
}

// SetPulseTicks programs the pulse duration in timer ticks and verifies the
// echoed value.
func (l *Labphox) SetPulseTicks(ticks int) error {
	cmd := buildCmd(modTimer, "A", ticks)
	resp, err := l.exec(cmd)
	if err != nil {
		return err
	}
	n, err := resp.Int()
	if err != nil {
		return err
	}
	if n != ticks {
		return &MismatchError{Sent: cmd, Received: resp.Raw}
	}
	return nil
}

// SetSamplingDivisor programs the waveform sampling timer divisor.
func (l *Labphox) SetSamplingDivisor(div int) error {
	_, err := l.exec(buildCmd(modTimer, "S", div))
	return err
}

// Pulse fires one current pulse and returns the raw 8-bit waveform samples
// streamed back in packet mode.
func (l *Labphox) Pulse() ([]byte, error) {
	return l.t.RoundTripPacket(buildCmd(modApp, "T", 1))
}

// Acquire triggers a waveform acquisition without firing a pulse.
func (l *Labphox) Acquire(v int) error {
	_, err := l.exec(buildCmd(modApp, "Q", v))
	return err
}

// TestCircuit switches the internal discharge test load in or out.
func (l *Labphox) TestCircuit(v int) error {
	_, err := l.exec(buildCmd(modApp, "P", v))
	return err
}

// Reset performs a hard reset of the board.
func (l *Labphox) Reset() error {
	_, err := l.exec(buildCmd(modReset, "R", ""))
	return err
}

// Bootloader reboots the board into its DFU bootloader.
func (l *Labphox) Bootloader() error {
	_, err := l.exec(buildCmd(modReset, "B", ""))
	return err
}

// SoftReset restarts the firmware without a power cycle.
func (l *Labphox) SoftReset() error {
	_, err := l.exec(buildCmd(modReset, "S", ""))
	return err
}

// packIPv4 packs a dotted-quad address into the firmware's little-endian
// integer representation.
func packIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return binary.LittleEndian.Uint32(ip.To4()), nil
}

func unpackIPv4(v uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}

// SetIP stores a static IPv4 address on the board.
func (l *Labphox) SetIP(addr string) error {
	v, err := packIPv4(addr)
	if err != nil {
		return err
	}
	_, err = l.exec(buildCmd(modEthernet, "I", v))
	return err
}

// IP reads back the board's configured IPv4 address.
func (l *Labphox) IP() (string, error) {
	n, err := l.execInt(buildCmd(modEthernet, "G", 0))
	if err != nil {
		return "", err
	}
	return unpackIPv4(uint32(n)), nil
}

// SetSubnetMask stores the board's IPv4 subnet mask.
func (l *Labphox) SetSubnetMask(mask string) error {
	v, err := packIPv4(mask)
	if err != nil {
		return err
	}
	_, err = l.exec(buildCmd(modEthernet, "K", v))
	return err
}

// SubnetMask reads back the board's configured subnet mask.
func (l *Labphox) SubnetMask() (string, error) {
	n, err := l.execInt(buildCmd(modEthernet, "L", 0))
	if err != nil {
		return "", err
	}
	return unpackIPv4(uint32(n)), nil
}

// EthernetDetection queries the PHY link detection state.
func (l *Labphox) EthernetDetection() (Response, error) {
	return l.exec(buildCmd(modEthernet, "D", ""))
}

// UpgradeChannels unlocks the given number of output ports after a license
// upgrade. The grammar uses the U prefix instead of W.
func (l *Labphox) UpgradeChannels(n int) error {
	cmd := fmt.Sprintf("U:A:0:%d;", n)
	resp, err := l.exec(cmd)
	if err != nil {
		return err
	}
	got, err := resp.Int()
	if err != nil {
		return err
	}
	if got != n {
		return &MismatchError{Sent: cmd, Received: resp.Raw}
	}
	return nil
}

// StreamKey transmits an upgrade key, one element per command, and verifies
// each echo.
func (l *Labphox) StreamKey(key []int) error {
	for i, element := range key {
		cmd := fmt.Sprintf("U:B:%c:%d;", 'A'+rune(i), element)
		resp, err := l.exec(cmd)
		if err != nil {
			return err
		}
		got, err := resp.Int()
		if err != nil {
			return err
		}
		if got != element {
			return &MismatchError{Sent: cmd, Received: resp.Raw}
		}
	}
	return nil
}

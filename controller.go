// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// SwitchModel identifies the relay family attached to the output ports.
type SwitchModel string

// Supported cryogenic switch models.
const (
	ModelR583423141 SwitchModel = "R583423141"
	ModelR573423600 SwitchModel = "R573423600"
)

func (m SwitchModel) typeCode() (int, error) {
	switch m {
	case ModelR583423141:
		return 1, nil
	case ModelR573423600:
		return 2, nil
	}
	return 0, fmt.Errorf("unknown switch model %q", m)
}

// validationID computes the bit-packed identifier the firmware echoes to
// confirm which relay coil pattern was selected. index is zero-based.
func (m SwitchModel) validationID(index, polarity int) int {
	var shift, offset int
	switch {
	case m == ModelR583423141 && polarity != 0:
		shift, offset = 0b0110, 0
	case m == ModelR583423141:
		shift, offset = 0b1001, 0
	case m == ModelR573423600 && polarity != 0:
		shift, offset = 0b10, 4096
	case m == ModelR573423600:
		shift, offset = 0b01, 8192
	}
	id := (shift << (2 * index)) + offset
	return (id & 255) | (id >> 8)
}

// Controller drives cryogenic RF switches through a Labphox pulse generator:
// it selects a relay path, fires a calibrated current pulse, captures the
// resulting waveform, and records the outcome. It is single-threaded and
// synchronous; every method blocks until its hardware exchange completes.
type Controller struct {
	dev *Labphox
	cal Calibration

	verbose bool
	debug   bool

	dataDir       string
	constantsPath string

	trackStates  bool
	logPulses    bool
	logWaveforms bool

	states   *StateFile
	pulseLog *PulseLog
	wavDir   string

	settle        time.Duration // base settle interval for hardware waits
	tolerance     float64       // relative voltage-verification tolerance
	warnBelow     float64       // low-current warning threshold, mA
	pulseDuration float64       // ms
	samplingFreq  int           // Hz

	model            SwitchModel
	converterVoltage float64 // last requested output voltage
	measuredVoltage  float64 // last measured output voltage
	hwRevN           int
}

// Option configures a Controller.
type Option func(*Controller)

// WithVerbose logs voltage checks and initialization progress.
func WithVerbose() Option { return func(c *Controller) { c.verbose = true } }

// WithDebug logs every protocol command and reply.
func WithDebug() Option { return func(c *Controller) { c.debug = true } }

// WithDataDir places states.json, pulse_logging.txt, and the waveform
// directory under dir instead of the working directory.
func WithDataDir(dir string) Option { return func(c *Controller) { c.dataDir = dir } }

// WithConstantsPath loads the calibration table from a file instead of the
// embedded copy.
func WithConstantsPath(path string) Option { return func(c *Controller) { c.constantsPath = path } }

// WithoutStateTracking disables the persisted switch-state table.
func WithoutStateTracking() Option { return func(c *Controller) { c.trackStates = false } }

// WithoutPulseLogging disables the append-only pulse log.
func WithoutPulseLogging() Option { return func(c *Controller) { c.logPulses = false } }

// WithoutWaveformFiles disables per-pulse waveform JSON files.
func WithoutWaveformFiles() Option { return func(c *Controller) { c.logWaveforms = false } }

// WithSettleTime overrides the base interval the controller waits for
// analog settling. All longer waits scale from it.
func WithSettleTime(d time.Duration) Option { return func(c *Controller) { c.settle = d } }

// WithWarningThreshold sets the peak current below which a pulse is logged
// with a low-current warning.
func WithWarningThreshold(mA float64) Option { return func(c *Controller) { c.warnBelow = mA } }

// NewController connects to a board over the given transport, reads its
// identity, loads the calibration table for its hardware revision, and
// prepares the on-disk state files. The transport is owned by the returned
// Controller from here on.
func NewController(t Transport, opts ...Option) (*Controller, error) {
	c := &Controller{
		dataDir:          ".",
		trackStates:      true,
		logPulses:        true,
		logWaveforms:     true,
		settle:           500 * time.Millisecond,
		tolerance:        0.15,
		warnBelow:        60,
		pulseDuration:    15,
		samplingFreq:     28000,
		model:            ModelR583423141,
		converterVoltage: 5,
	}
	for _, o := range opts {
		o(c)
	}

	c.dev = NewLabphox(t)
	c.dev.debug = c.debug
	if err := c.dev.Connect(); err != nil {
		return nil, err
	}
	if c.verbose {
		log.Printf("connected to %s, SN %s, HW %s, FW %d, %d ports",
			c.dev.Name, c.dev.SN, c.dev.HW, c.dev.FW, c.dev.Channels)
	}

	table, err := LoadConstants(c.constantsPath)
	if err != nil {
		return nil, err
	}
	consts, ok := table[c.dev.HW]
	if !ok {
		return nil, fmt.Errorf("no calibration constants for hardware revision %q", c.dev.HW)
	}
	c.cal = Calibration{Constants: consts, ADCRef: NominalADCRef}
	c.hwRevN = revisionNumber(c.dev.HW)

	if consts.CalibrateADC {
		c.calibrateADCRef()
	}

	if c.trackStates {
		c.states = &StateFile{Path: filepath.Join(c.dataDir, "states.json")}
		if err := c.states.EnsureBoard(c.dev.SN, c.dev.Channels); err != nil {
			return nil, err
		}
	}
	if c.logPulses {
		c.pulseLog = &PulseLog{Path: filepath.Join(c.dataDir, "pulse_logging.txt"), WarnBelow: c.warnBelow}
		if err := c.pulseLog.Init(); err != nil {
			return nil, err
		}
	}
	if c.logWaveforms {
		c.wavDir = filepath.Join(c.dataDir, "data")
		if err := os.MkdirAll(c.wavDir, 0o755); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// revisionNumber extracts the trailing number of a hardware revision string
// such as "V4".
func revisionNumber(hw string) int {
	n := 0
	for _, r := range hw {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
		} else {
			n = 0
		}
	}
	return n
}

// Device exposes the underlying command layer for operations this package
// does not wrap.
func (c *Controller) Device() *Labphox { return c.dev }

// SN returns the connected board's serial number.
func (c *Controller) SN() string { return c.dev.SN }

// Ports returns the number of ports enabled on the connected board.
func (c *Controller) Ports() int { return c.dev.Channels }

// HWRevision returns the board's hardware revision string.
func (c *Controller) HWRevision() string { return c.dev.HW }

// Close releases the transport.
func (c *Controller) Close() error { return c.dev.Close() }

// calibrateADCRef refines the ADC reference voltage by averaging a fixed
// number of readings of the board's 2.5 V precision reference. A result
// outside the expected band is logged and discarded in favor of the nominal
// constant; the controller stays usable either way.
func (c *Controller) calibrateADCRef() {
	const samples = 5
	if err := c.dev.ADC3Start(); err != nil {
		log.Printf("ADC reference calibration skipped: %v", err)
		return
	}
	time.Sleep(c.settle / 5)

	sum := 0.0
	for i := 0; i < samples; i++ {
		ref, err := c.VRef()
		if err != nil {
			log.Printf("ADC reference calibration skipped: %v", err)
			return
		}
		sum += ref
	}
	measured := sum / samples
	if measured < 3.1 || measured > 3.5 {
		log.Printf("measured ADC ref %.4fV outside of range, keeping nominal %.1fV", measured, NominalADCRef)
		return
	}
	c.cal.ADCRef = measured
}

// VRef measures the ADC reference voltage against the board's 2.5 V
// precision reference. Only hardware revisions that expose the reference
// support this.
func (c *Controller) VRef() (float64, error) {
	if !c.cal.ADCCalRef {
		return 0, fmt.Errorf("calibration reference is not available on hardware revision %s", c.dev.HW)
	}
	if err := c.dev.ADC3Select(8); err != nil {
		return 0, err
	}
	time.Sleep(c.settle)
	code, err := c.dev.ADC3Get()
	if err != nil {
		return 0, err
	}
	return c.cal.ADCRefFromCode(code)
}

// measureADC selects a channel on the main ADC, lets it settle, and reads
// the conversion.
func (c *Controller) measureADC(channel int) (int, error) {
	if err := c.dev.ADCSelect(channel); err != nil {
		return 0, err
	}
	time.Sleep(c.settle)
	return c.dev.ADCGet()
}

// ConverterVoltage measures the present converter output voltage.
func (c *Controller) ConverterVoltage() (float64, error) {
	code, err := c.measureADC(c.cal.ConverterADC)
	if err != nil {
		return 0, err
	}
	v := math.Round(c.cal.ConverterVoltageFromCode(code)*100) / 100
	c.measuredVoltage = v
	return v, nil
}

// BiasVoltage measures the negative supply rail.
func (c *Controller) BiasVoltage() (float64, error) {
	code, err := c.measureADC(c.cal.BiasADC)
	if err != nil {
		return 0, err
	}
	return math.Round(c.cal.BiasVoltageFromCode(code)*100) / 100, nil
}

// InternalTemperature reads the MCU die temperature in degrees Celsius.
func (c *Controller) InternalTemperature() (float64, error) {
	const temperatureChannel = 16
	code, err := c.measureADC(temperatureChannel)
	if err != nil {
		return 0, err
	}
	return c.cal.InternalTemperature(code), nil
}

// UIDs reads the three words of the MCU unique identifier.
func (c *Controller) UIDs() ([3]int, error) {
	var uid [3]int
	for i := range uid {
		v, err := c.dev.UID(i)
		if err != nil {
			return uid, err
		}
		uid[i] = v
	}
	return uid, nil
}

// checkVoltage logs whether a measured voltage landed within tolerance of
// its target.
func (c *Controller) checkVoltage(measured, target float64, what string) bool {
	relErr := math.Abs((measured - target) / target)
	if relErr > c.tolerance {
		log.Printf("%s: failed to set voltage %gV, measured %.2fV", what, target, measured)
		return false
	}
	if c.verbose {
		log.Printf("%s: voltage set to %.2fV", what, measured)
	}
	return true
}

// Enable5V powers the 5 V rail.
func (c *Controller) Enable5V() error { return c.dev.SetGPIO(GPIOEnable5V, 1) }

// Disable5V powers down the 5 V rail.
func (c *Controller) Disable5V() error { return c.dev.SetGPIO(GPIOEnable5V, 0) }

// Enable3V3 powers the 3.3 V rail.
func (c *Controller) Enable3V3() error { return c.dev.SetGPIO(GPIOEnable3V3, 1) }

// Disable3V3 powers down the 3.3 V rail.
func (c *Controller) Disable3V3() error { return c.dev.SetGPIO(GPIOEnable3V3, 0) }

// EnableNegativeSupply starts the charge pump and verifies the -5 V rail.
func (c *Controller) EnableNegativeSupply() (float64, error) {
	if err := c.dev.SetGPIO(GPIOEnableChargePump, 1); err != nil {
		return 0, err
	}
	time.Sleep(2 * c.settle)
	bias, err := c.BiasVoltage()
	if err != nil {
		return 0, err
	}
	c.checkVoltage(bias, -5, "BIAS STATUS")
	return bias, nil
}

// DisableNegativeSupply stops the charge pump.
func (c *Controller) DisableNegativeSupply() (float64, error) {
	if err := c.dev.SetGPIO(GPIOEnableChargePump, 0); err != nil {
		return 0, err
	}
	return c.BiasVoltage()
}

// SetOutputVoltage programs the converter output. Range violations are
// rejected before any transport write; a DAC code outside its safe window is
// likewise a hard precondition failure.
func (c *Controller) SetOutputVoltage(vout float64) (float64, error) {
	lo, hi := c.cal.OutputVoltageRange[0], c.cal.OutputVoltageRange[1]
	if vout < lo || vout > hi {
		return 0, &RangeError{Quantity: "output voltage", Value: vout, Min: lo, Max: hi}
	}
	code, err := c.cal.OutputCode(vout)
	if err != nil {
		return 0, err
	}

	// The negative supply only tolerates low output voltages.
	if vout > 10 {
		if _, err := c.DisableNegativeSupply(); err != nil {
			return 0, err
		}
	} else {
		if _, err := c.EnableNegativeSupply(); err != nil {
			return 0, err
		}
	}
	if err := c.dev.DACOn(1); err != nil {
		return 0, err
	}
	if err := c.dev.DACSet(1, code); err != nil {
		return 0, err
	}
	time.Sleep(4 * c.settle)
	c.converterVoltage = vout

	measured, err := c.ConverterVoltage()
	if err != nil {
		return 0, err
	}
	c.checkVoltage(measured, vout, "CONVERTER STATUS")
	return measured, nil
}

// EnableConverter powers up the DC-DC converter at the given initial
// voltage; pass 0 to reuse the last requested voltage.
func (c *Controller) EnableConverter(initVoltage float64) error {
	code, err := c.cal.OutputCode(c.cal.OutputVoltageRange[0])
	if err != nil {
		return err
	}
	if err := c.dev.DACSet(1, code); err != nil {
		return err
	}
	if err := c.dev.DACOn(1); err != nil {
		return err
	}
	if err := c.dev.SetGPIO(GPIOPowerEnable, 1); err != nil {
		return err
	}
	if err := c.dev.SetGPIO(GPIOConverterEnable, 1); err != nil {
		return err
	}
	if initVoltage == 0 {
		initVoltage = c.converterVoltage
	}
	_, err = c.SetOutputVoltage(initVoltage)
	return err
}

// DisableConverter parks the DAC at the minimum output and powers the
// converter down.
func (c *Controller) DisableConverter() error {
	code, err := c.cal.OutputCode(c.cal.OutputVoltageRange[0])
	if err != nil {
		return err
	}
	return multierr.Combine(
		c.dev.DACSet(1, code),
		c.dev.SetGPIO(GPIOConverterEnable, 0),
		c.dev.SetGPIO(GPIOPowerEnable, 0),
	)
}

// EnableOCP arms the over-current protection comparator at a conservative
// default threshold.
func (c *Controller) EnableOCP() error {
	code, err := c.cal.OCPCode(50)
	if err != nil {
		return err
	}
	if err := c.dev.DACSet(2, code); err != nil {
		return err
	}
	if err := c.dev.DACOn(2); err != nil {
		return err
	}
	_, err = c.SetOCP(100)
	return err
}

// SetOCP programs the over-current protection threshold in milliamps.
func (c *Controller) SetOCP(mA float64) (float64, error) {
	lo, hi := c.cal.OCPRange[0], c.cal.OCPRange[1]
	if mA < lo || mA > hi {
		return 0, &RangeError{Quantity: "over-current threshold", Value: mA, Min: lo, Max: hi}
	}
	code, err := c.cal.OCPCode(mA)
	if err != nil {
		return 0, err
	}
	if err := c.dev.DACSet(2, code); err != nil {
		return 0, err
	}
	return mA, nil
}

// ResetOCP clears a tripped over-current latch by cycling the chopping
// enable line.
func (c *Controller) ResetOCP() error {
	if err := c.dev.SetGPIO(GPIOChoppingEnable, 1); err != nil {
		return err
	}
	time.Sleep(2 * c.settle / 5)
	return c.dev.SetGPIO(GPIOChoppingEnable, 0)
}

// OCPStatus reads the over-current trip flag.
func (c *Controller) OCPStatus() (int, error) { return c.dev.OCPStatus() }

// EnableChopping enables the converter's chopping stage.
func (c *Controller) EnableChopping() error { return c.dev.SetGPIO(GPIOChoppingEnable, 1) }

// DisableChopping disables the converter's chopping stage.
func (c *Controller) DisableChopping() error { return c.dev.SetGPIO(GPIOChoppingEnable, 0) }

// PowerStatus reads the output-supervisor power-good flag.
func (c *Controller) PowerStatus() (int, error) { return c.dev.PowerStatus() }

// ResetOutputSupervisor recovers from a tripped output supervisor by forcing
// the power-enable line while the converter restarts. This is the one
// bounded recovery sequence in the driver.
func (c *Controller) ResetOutputSupervisor() error {
	if err := c.DisableConverter(); err != nil {
		return err
	}
	if err := c.dev.SetGPIO(GPIOForcePowerEnable, 1); err != nil {
		return err
	}
	time.Sleep(c.settle)
	if err := c.dev.SetGPIO(GPIOForcePowerEnable, 0); err != nil {
		return err
	}
	return c.EnableConverter(0)
}

// SetPulseDuration programs the actuation pulse length in milliseconds.
func (c *Controller) SetPulseDuration(ms float64) error {
	lo, hi := c.cal.PulseDurationRange[0], c.cal.PulseDurationRange[1]
	if ms < lo || ms > hi {
		return &RangeError{Quantity: "pulse duration (ms)", Value: ms, Min: lo, Max: hi}
	}
	// The timer runs at 100 ticks per ms plus a fixed trigger offset.
	const pulseOffset = 100
	if err := c.dev.SetPulseTicks(int(math.Round(ms*100 + pulseOffset))); err != nil {
		return err
	}
	c.pulseDuration = ms
	if c.verbose {
		log.Printf("pulse duration set to %g ms", ms)
	}
	return nil
}

// SetSamplingFrequency programs the waveform sampling rate in kHz.
func (c *Controller) SetSamplingFrequency(khz float64) error {
	lo, hi := c.cal.SamplingFrequencyRange[0], c.cal.SamplingFrequencyRange[1]
	if khz < lo || khz > hi {
		return &RangeError{Quantity: "sampling frequency (kHz)", Value: khz, Min: lo, Max: hi}
	}
	// The sampling timer divides an 84 MHz base clock.
	if err := c.dev.SetSamplingDivisor(int(84000 / khz)); err != nil {
		return err
	}
	c.samplingFreq = int(khz * 1000)
	return nil
}

// SamplingFrequency returns the configured waveform sampling rate in Hz.
func (c *Controller) SamplingFrequency() int { return c.samplingFreq }

// SelectSwitchModel tells the firmware which relay family is cabled to the
// outputs. The model determines coil bit patterns and validation IDs.
func (c *Controller) SelectSwitchModel(model SwitchModel) error {
	code, err := model.typeCode()
	if err != nil {
		return err
	}
	if err := c.dev.SetSwitchType(code); err != nil {
		return err
	}
	c.model = model
	return nil
}

// EnableOutputDrivers powers the relay driver stage, retrying a few times if
// the drivers report a fault.
func (c *Controller) EnableOutputDrivers() error {
	const attempts = 4
	var fault int
	var err error
	for i := 0; i < attempts; i++ {
		fault, err = c.dev.EnableOutputDrivers()
		if err != nil {
			return err
		}
		if fault == 0 {
			if c.verbose && i > 0 {
				log.Printf("%d attempts to enable output drivers", i+1)
			}
			return nil
		}
	}
	return fmt.Errorf("failed to enable output drivers: fault flag %d", fault)
}

// DisableOutputDrivers de-selects every relay channel.
func (c *Controller) DisableOutputDrivers() error { return c.dev.DisableOutputDrivers() }

// validatePortContact rejects addressing outside the connected board's
// physical range before any hardware I/O.
func (c *Controller) validatePortContact(port string, contact int) error {
	idx := strings.Index(portLetters, port)
	if len(port) != 1 || idx < 0 || idx >= c.dev.Channels ||
		contact < 1 || contact > contactsPerPort {
		return &AddressError{Port: port, Contact: contact, Ports: c.dev.Channels}
	}
	return nil
}

// selectOutputChannel addresses one relay coil and verifies the validation
// identifier echoed by the firmware. On mismatch no pulse may be fired.
func (c *Controller) selectOutputChannel(port string, contact, polarity int) error {
	index := contact - 1
	resp, err := c.dev.SelectContact(port, index, polarity != 0)
	if err != nil {
		return err
	}
	got, err := resp.Int()
	if err != nil {
		return err
	}
	want := c.model.validationID(index, polarity)
	if got != want {
		return &SelectionError{Port: port, Contact: contact, Expected: want, Received: got}
	}
	return nil
}

// sendPulse fires one calibrated pulse and converts the captured waveform to
// milliamps. A de-asserted power-good flag triggers the supervisor recovery
// sequence first.
func (c *Controller) sendPulse() ([]float64, error) {
	status, err := c.PowerStatus()
	if err != nil {
		return nil, err
	}
	if status == 0 {
		log.Printf("timing protection triggered, resetting output supervisor")
		if err := c.ResetOutputSupervisor(); err != nil {
			return nil, err
		}
	}
	raw, err := c.dev.Pulse()
	if err != nil {
		return nil, err
	}
	return c.cal.Currents(raw), nil
}

// selectAndPulse runs one actuation end to end: relay selection, pulse,
// driver de-selection, then state/log/waveform persistence. The returned
// waveform is raw and unaligned; AlignEdges is display-only.
func (c *Controller) selectAndPulse(port string, contact, polarity int) ([]float64, error) {
	if err := c.selectOutputChannel(port, contact, polarity); err != nil {
		return nil, err
	}
	profile, err := c.sendPulse()
	if err != nil {
		return nil, err
	}
	// Never hold current on the path after the pulse.
	if err := c.DisableOutputDrivers(); err != nil {
		return nil, err
	}

	maxmA := 0.0
	for _, v := range profile {
		if v > maxmA {
			maxmA = v
		}
	}
	now := time.Now()

	if c.trackStates {
		if err := c.states.Record(c.dev.SN, port, contact, polarity); err != nil {
			return nil, err
		}
	}
	if c.logPulses {
		ev := PulseEvent{Port: port, Contact: contact, Polarity: polarity, MaxCurrent: maxmA, Time: now}
		if err := c.pulseLog.Append(ev); err != nil {
			return nil, err
		}
	}
	if c.logWaveforms {
		w := Waveform{
			Time:              float64(now.Unix()),
			Voltage:           c.measuredVoltage,
			Port:              port,
			Contact:           contact,
			Polarity:          polarity,
			SamplingFrequency: c.samplingFreq,
			Data:              profile,
		}
		if _, err := writeWaveform(c.wavDir, w); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

// Connect actuates the given contact onto the port's common terminal and
// returns the pulse current waveform in milliamps.
func (c *Controller) Connect(port string, contact int) ([]float64, error) {
	if err := c.validatePortContact(port, contact); err != nil {
		return nil, err
	}
	if c.debug {
		log.Printf("connecting port %s contact %d", port, contact)
	}
	return c.selectAndPulse(port, contact, 1)
}

// Disconnect releases the given contact from the port's common terminal.
func (c *Controller) Disconnect(port string, contact int) ([]float64, error) {
	if err := c.validatePortContact(port, contact); err != nil {
		return nil, err
	}
	if c.debug {
		log.Printf("disconnecting port %s contact %d", port, contact)
	}
	return c.selectAndPulse(port, contact, 0)
}

// DisconnectAll releases every contact of a port in turn.
func (c *Controller) DisconnectAll(port string) error {
	for contact := 1; contact <= contactsPerPort; contact++ {
		if _, err := c.Disconnect(port, contact); err != nil {
			return err
		}
	}
	return nil
}

// SmartConnect consults the persisted state table, disconnects whichever
// other contact is recorded as connected on the port, and then connects the
// requested one. A contact already recorded as connected is pulsed again
// only when force is set. The driver does not otherwise enforce the
// one-contact-per-common invariant.
func (c *Controller) SmartConnect(port string, contact int, force bool) ([]float64, error) {
	if err := c.validatePortContact(port, contact); err != nil {
		return nil, err
	}
	if !c.trackStates {
		return nil, fmt.Errorf("smart connect requires state tracking")
	}
	state, err := c.states.Port(c.dev.SN, port)
	if err != nil {
		return nil, err
	}
	for other := 1; other <= contactsPerPort; other++ {
		if other == contact || state[contactKey(other)] != 1 {
			continue
		}
		if c.verbose {
			log.Printf("disconnecting port %s contact %d", port, other)
		}
		if _, err := c.Disconnect(port, other); err != nil {
			return nil, err
		}
	}
	if state[contactKey(contact)] == 1 && !force {
		if c.verbose {
			log.Printf("port %s contact %d is already connected", port, contact)
		}
		return nil, nil
	}
	return c.Connect(port, contact)
}

// SwitchState returns the persisted contact states of one port.
func (c *Controller) SwitchState(port string) (PortState, error) {
	if !c.trackStates {
		return nil, fmt.Errorf("state tracking is disabled")
	}
	if err := c.validatePortContact(port, 1); err != nil {
		return nil, err
	}
	return c.states.Port(c.dev.SN, port)
}

// States returns the persisted states of every port on the board.
func (c *Controller) States() (BoardState, error) {
	if !c.trackStates {
		return nil, fmt.Errorf("state tracking is disabled")
	}
	return c.states.Board(c.dev.SN)
}

// PulseHistory returns up to n most recent pulse events, optionally filtered
// by port.
func (c *Controller) PulseHistory(port string, n int) ([]PulseEvent, error) {
	if !c.logPulses {
		return nil, fmt.Errorf("pulse logging is disabled")
	}
	return c.pulseLog.History(port, n)
}

// PolarizationCurrent estimates the expected polarization current for the
// present configuration, in milliamps.
func (c *Controller) PolarizationCurrent() float64 {
	return c.cal.PolarizationCurrent(c.converterVoltage, c.measuredVoltage, 0)
}

// Discharge pulses the converter into the internal test load and returns the
// measured current waveform. Only hardware revision 4 and later carries the
// test circuit.
func (c *Controller) Discharge() ([]float64, error) {
	if c.hwRevN < 4 {
		return nil, fmt.Errorf("discharge is not possible on hardware revision %s", c.dev.HW)
	}
	if err := c.dev.TestCircuit(1); err != nil {
		return nil, err
	}
	profile, err := c.sendPulse()
	if err != nil {
		return nil, err
	}
	if err := c.dev.TestCircuit(0); err != nil {
		return nil, err
	}
	return profile, nil
}

// TestInternals exercises the converter and measurement chain against the
// internal test load at the given voltage and returns the discharge
// waveform. The previous output voltage is restored afterwards.
func (c *Controller) TestInternals(voltage float64) ([]float64, error) {
	if c.hwRevN < 4 {
		return nil, fmt.Errorf("test circuit is not available on hardware revision %s", c.dev.HW)
	}
	last := c.converterVoltage
	if _, err := c.SetOutputVoltage(voltage); err != nil {
		return nil, err
	}
	profile, err := c.Discharge()
	if err != nil {
		return nil, err
	}
	if _, err := c.SetOutputVoltage(last); err != nil {
		return nil, err
	}
	return profile, nil
}

// Start initializes the board's power stages and acquisition chain: rails,
// OCP, chopping, pulse timing, converter, and relay drivers.
func (c *Controller) Start() error {
	if c.verbose {
		log.Printf("initializing board %s", c.dev.SN)
	}
	if err := c.dev.ADCStart(); err != nil {
		return err
	}
	if err := c.Enable3V3(); err != nil {
		return err
	}
	if err := c.Enable5V(); err != nil {
		return err
	}
	if err := c.EnableOCP(); err != nil {
		return err
	}
	if _, err := c.SetOCP(80); err != nil {
		return err
	}
	if err := c.EnableChopping(); err != nil {
		return err
	}
	if err := c.SetPulseDuration(15); err != nil {
		return err
	}
	if err := c.EnableConverter(0); err != nil {
		return err
	}
	time.Sleep(2 * c.settle)
	if err := c.EnableOutputDrivers(); err != nil {
		return err
	}
	if err := c.SelectSwitchModel(ModelR583423141); err != nil {
		return err
	}

	status, err := c.PowerStatus()
	if err != nil {
		return err
	}
	if c.verbose {
		if status == 0 {
			log.Printf("POWER STATUS: output voltage not enabled")
		} else {
			log.Printf("POWER STATUS: ready")
		}
	}
	return nil
}

// Standby parks the board in its lowest-power safe state. All shutdown steps
// run regardless of individual failures; their errors are combined.
func (c *Controller) Standby() error {
	var err error
	if _, e := c.SetOutputVoltage(c.cal.OutputVoltageRange[0]); e != nil {
		err = multierr.Append(err, e)
	}
	err = multierr.Append(err, c.DisableConverter())
	if _, e := c.DisableNegativeSupply(); e != nil {
		err = multierr.Append(err, e)
	}
	err = multierr.Append(err, c.Disable3V3())
	return multierr.Append(err, c.Disable5V())
}

// Reset hard-resets the board and waits for it to reboot.
func (c *Controller) Reset() error {
	if err := c.dev.Reset(); err != nil {
		return err
	}
	time.Sleep(6 * c.settle)
	return nil
}

// BootloaderMode reboots the board into its DFU bootloader for firmware
// upgrades.
func (c *Controller) BootloaderMode() error { return c.dev.Bootloader() }

// SetIP stores a static IPv4 address on the board.
func (c *Controller) SetIP(addr string) error { return c.dev.SetIP(addr) }

// IP reads the board's configured IPv4 address.
func (c *Controller) IP() (string, error) { return c.dev.IP() }

// SetSubnetMask stores the board's subnet mask.
func (c *Controller) SetSubnetMask(mask string) error { return c.dev.SetSubnetMask(mask) }

// SubnetMask reads the board's configured subnet mask.
func (c *Controller) SubnetMask() (string, error) { return c.dev.SubnetMask() }

// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

//go:embed constants.json
var embeddedConstants []byte

// NominalADCRef is the nominal ADC reference voltage, used when the
// per-board reference measurement is unavailable or out of band.
const NominalADCRef = 3.3

// Constants is the calibration table for one hardware revision. Values are
// immutable after load; only the ADC reference may be refined once at
// startup via a calibration measurement.
type Constants struct {
	ADC12BRes    float64 `json:"ADC_12B_res"`
	ADC8BRes     float64 `json:"ADC_8B_res"`
	ADCCalRef    bool    `json:"ADC_cal_ref"` // board exposes the 2.5 V calibration reference
	CalibrateADC bool    `json:"calibrate_ADC"`

	BiasR1  float64 `json:"bv_R1"`
	BiasR2  float64 `json:"bv_R2"`
	BiasADC int     `json:"bv_ADC"`

	ConverterDivider float64 `json:"converter_divider"`
	ConverterADC     int     `json:"converter_ADC"`

	ConverterVREF      float64    `json:"converter_VREF"`
	ConverterR1        float64    `json:"converter_R1"`
	ConverterR2        float64    `json:"converter_R2"`
	ConverterRf        float64    `json:"converter_Rf"`
	DACLowerBound      int        `json:"converter_DAC_lower_bound"`
	DACUpperBound      int        `json:"converter_DAC_upper_bound"`
	CorrectionCodes    [2]float64 `json:"converter_correction_codes"`
	OutputVoltageRange [2]float64 `json:"converter_output_voltage_range"`

	OCPGain  float64    `json:"OCP_gain"`
	OCPRange [2]float64 `json:"OCP_range"`

	PulseDurationRange     [2]float64 `json:"pulse_duration_range"`
	SamplingFrequencyRange [2]float64 `json:"sampling_frequency_range"`

	CurrentSenseR      float64    `json:"current_sense_R"`
	CurrentGain        float64    `json:"current_gain"`
	PolarizationParams [3]float64 `json:"polarization_params"`
}

// LoadConstants reads a calibration table keyed by hardware-revision string.
// An empty path loads the table shipped with this package.
func LoadConstants(path string) (map[string]Constants, error) {
	data := embeddedConstants
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading constants file: %w", err)
		}
	}
	table := make(map[string]Constants)
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing constants file: %w", err)
	}
	return table, nil
}

// Calibration binds a constants table to the ADC reference voltage in use.
// All conversions are pure functions; acquiring the samples they operate on
// is the caller's concern.
type Calibration struct {
	Constants
	ADCRef float64 // measured reference if the startup calibration passed, else nominal
}

// OutputCode converts a target converter output voltage to a DAC register
// code, applying the resistor-divider model and the per-revision correction
// coefficients. A code outside the DAC's safe register window is a hard
// precondition failure: nothing should be written to the hardware.
func (c Calibration) OutputCode(vout float64) (int, error) {
	feedback := c.ConverterVREF*(1+c.ConverterR1/c.ConverterR2) - vout
	raw := (c.ConverterVREF + feedback*(c.ConverterRf/c.ConverterR1)) * (c.ADC12BRes / c.ADCRef)
	code := int(raw/c.CorrectionCodes[0] - c.CorrectionCodes[1])
	if code < c.DACLowerBound || code > c.DACUpperBound {
		return 0, &RangeError{
			Quantity: "DAC code",
			Value:    float64(code),
			Min:      float64(c.DACLowerBound),
			Max:      float64(c.DACUpperBound),
		}
	}
	return code, nil
}

// OutputVoltage is the inverse of OutputCode: the converter output voltage a
// DAC register code produces.
func (c Calibration) OutputVoltage(code int) float64 {
	raw := (float64(code) + c.CorrectionCodes[1]) * c.CorrectionCodes[0]
	v := raw * c.ADCRef / c.ADC12BRes
	return c.ConverterVREF*(1+c.ConverterR1/c.ConverterR2) - (v-c.ConverterVREF)*(c.ConverterR1/c.ConverterRf)
}

// OutputVoltageLSB is the change in output voltage produced by one DAC code
// step.
func (c Calibration) OutputVoltageLSB() float64 {
	return c.CorrectionCodes[0] * c.ADCRef / c.ADC12BRes * (c.ConverterR1 / c.ConverterRf)
}

// OCPCode converts an over-current threshold in milliamps to the DAC 2
// register code.
func (c Calibration) OCPCode(mA float64) (int, error) {
	code := int(mA * (c.CurrentSenseR * c.CurrentGain * c.ADC12BRes / (c.OCPGain * 1000 * c.ADCRef)))
	if code <= 0 || code >= 4095 {
		return 0, &RangeError{Quantity: "OCP code", Value: float64(code), Min: 1, Max: 4094}
	}
	return code, nil
}

// CurrentScale is the current in milliamps represented by one 8-bit
// waveform sample count, fixed by the sense resistor, the amplifier gain,
// and the ADC full scale.
func (c Calibration) CurrentScale() float64 {
	return 1000 * c.ADCRef / (c.CurrentSenseR * c.CurrentGain * c.ADC8BRes)
}

// Currents converts a raw pulse waveform to milliamps.
func (c Calibration) Currents(raw []byte) []float64 {
	scale := c.CurrentScale()
	out := make([]float64, len(raw))
	for i, s := range raw {
		out[i] = float64(s) * scale
	}
	return out
}

// ConverterVoltageFromCode converts a 12-bit ADC reading of the divided
// converter rail to volts.
func (c Calibration) ConverterVoltageFromCode(code int) float64 {
	gain := c.ADCRef * c.ConverterDivider / c.ADC12BRes
	return float64(code) * gain
}

// BiasVoltageFromCode converts a 12-bit ADC reading of the negative-supply
// divider to volts.
func (c Calibration) BiasVoltageFromCode(code int) float64 {
	gain := c.ADCRef * ((c.BiasR2 + c.BiasR1) / c.BiasR1) / c.ADC12BRes
	offset := c.ADCRef * c.BiasR2 / c.BiasR1
	return float64(code)*gain - offset
}

// InternalTemperature converts a reading of the MCU temperature sensor
// channel to degrees Celsius, using the STM32 datasheet constants.
func (c Calibration) InternalTemperature(code int) float64 {
	const (
		v25      = 0.76   // sensor voltage at 25 degC
		avgSlope = 0.0025 // V per degC
	)
	vsense := c.ADCRef * float64(code) / c.ADC12BRes
	return (vsense-v25)/avgSlope + 25
}

// ADCRefFromCode derives the actual ADC reference voltage from a reading of
// the board's 2.5 V precision reference.
func (c Calibration) ADCRefFromCode(code int) (float64, error) {
	if code <= 0 {
		return 0, fmt.Errorf("invalid reference reading %d", code)
	}
	ref := 2.5 * c.ADC12BRes / float64(code)
	return math.Round(ref*1e4) / 1e4, nil
}

// PolarizationCurrent estimates the expected polarization (baseline leakage)
// current in milliamps for the present configuration. The model is piecewise
// linear; the segment depends on the configured output voltage, while the
// estimate itself is evaluated at the measured voltage. loadR, if positive,
// adds an external load term. The result is a plotted reference line, not a
// pass/fail gate.
func (c Calibration) PolarizationCurrent(configuredV, measuredV, loadR float64) float64 {
	p := c.PolarizationParams
	v := measuredV
	var amps float64
	switch {
	case configuredV <= 10:
		amps = (v-2.2)/p[0] + (v-0.2+5)/p[1] + (v-3)/p[2]
	case configuredV < 15:
		amps = (v-2.2)/p[0] + (v-0.2)/p[1] + (v-3)/p[2]
	default:
		amps = (v-2.2)/p[0] + (v-10)/p[1] + (v-3)/p[2]
	}
	if loadR > 0 {
		amps += v / loadR
	}
	return math.Round(amps*1000*10) / 10
}

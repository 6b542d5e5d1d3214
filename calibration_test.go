// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"errors"
	"math"
	"testing"
)

func testCalibration(t *testing.T, hw string) Calibration {
	t.Helper()
	table, err := LoadConstants("")
	if err != nil {
		t.Fatalf("LoadConstants: %v", err)
	}
	consts, ok := table[hw]
	if !ok {
		t.Fatalf("no constants for hardware revision %q", hw)
	}
	return Calibration{Constants: consts, ADCRef: NominalADCRef}
}

func TestLoadConstants(t *testing.T) {
	table, err := LoadConstants("")
	if err != nil {
		t.Fatalf("LoadConstants: %v", err)
	}
	for _, hw := range []string{"V3", "V4"} {
		c, ok := table[hw]
		if !ok {
			t.Fatalf("missing constants for %s", hw)
		}
		if c.DACLowerBound != 300 || c.DACUpperBound != 3500 {
			t.Errorf("%s DAC bounds = %d-%d, want 300-3500", hw, c.DACLowerBound, c.DACUpperBound)
		}
	}
	if table["V3"].CalibrateADC {
		t.Error("V3 should not calibrate the ADC reference")
	}
	if !table["V4"].CalibrateADC {
		t.Error("V4 should calibrate the ADC reference")
	}
}

func TestOutputCodeRoundTrip(t *testing.T) {
	cal := testCalibration(t, "V4")
	lsb := cal.OutputVoltageLSB()

	lo, hi := cal.OutputVoltageRange[0], cal.OutputVoltageRange[1]
	for v := lo; v <= hi; v += 0.5 {
		code, err := cal.OutputCode(v)
		if err != nil {
			t.Fatalf("OutputCode(%g): %v", v, err)
		}
		if code < cal.DACLowerBound || code > cal.DACUpperBound {
			t.Fatalf("OutputCode(%g) = %d outside DAC window", v, code)
		}
		got := cal.OutputVoltage(code)
		if diff := math.Abs(got - v); diff > lsb {
			t.Errorf("OutputVoltage(OutputCode(%g)) = %g, off by %g (> 1 LSB %g)", v, got, diff, lsb)
		}
	}
}

func TestOutputCodeOutsideWindow(t *testing.T) {
	cal := testCalibration(t, "V4")
	for _, v := range []float64{4, 31} {
		_, err := cal.OutputCode(v)
		var re *RangeError
		if !errors.As(err, &re) {
			t.Errorf("OutputCode(%g) err = %v, want RangeError", v, err)
		}
	}
}

func TestOCPCode(t *testing.T) {
	cal := testCalibration(t, "V4")

	code, err := cal.OCPCode(100)
	if err != nil {
		t.Fatalf("OCPCode(100): %v", err)
	}
	if code != 620 {
		t.Errorf("OCPCode(100) = %d, want 620", code)
	}

	for _, mA := range []float64{0.1, 700} {
		if _, err := cal.OCPCode(mA); err == nil {
			t.Errorf("OCPCode(%g): expected error", mA)
		}
	}
}

func TestCurrents(t *testing.T) {
	cal := testCalibration(t, "V4")

	scale := cal.CurrentScale()
	want := 1000 * 3.3 / (0.1 * 50 * 255)
	if math.Abs(scale-want) > 1e-9 {
		t.Fatalf("CurrentScale() = %g, want %g", scale, want)
	}

	got := cal.Currents([]byte{0, 37, 255})
	if len(got) != 3 {
		t.Fatalf("Currents length = %d, want 3", len(got))
	}
	if got[0] != 0 {
		t.Errorf("Currents[0] = %g, want 0", got[0])
	}
	if math.Abs(got[1]-37*scale) > 1e-9 || math.Abs(got[2]-255*scale) > 1e-9 {
		t.Errorf("Currents = %v, want samples scaled by %g", got, scale)
	}
	// A healthy actuation peak sits well above the warning threshold.
	if got[1] < 60 {
		t.Errorf("sample 37 converts to %.1f mA, expected above 60 mA", got[1])
	}
}

func TestVoltageConversions(t *testing.T) {
	cal := testCalibration(t, "V4")

	if v := cal.ConverterVoltageFromCode(2000); math.Abs(v-17.729) > 1e-3 {
		t.Errorf("ConverterVoltageFromCode(2000) = %g, want 17.729", v)
	}
	if v := cal.BiasVoltageFromCode(0); math.Abs(v+6.6) > 1e-9 {
		t.Errorf("BiasVoltageFromCode(0) = %g, want -6.6", v)
	}
	if v := cal.BiasVoltageFromCode(662); math.Abs(v+5) > 0.01 {
		t.Errorf("BiasVoltageFromCode(662) = %g, want about -5", v)
	}
}

func TestInternalTemperature(t *testing.T) {
	cal := testCalibration(t, "V4")
	// Code 943 puts the sensor voltage at the datasheet's 25 degC point.
	if temp := cal.InternalTemperature(943); math.Abs(temp-25) > 0.1 {
		t.Errorf("InternalTemperature(943) = %g, want about 25", temp)
	}
}

func TestADCRefFromCode(t *testing.T) {
	cal := testCalibration(t, "V4")

	ref, err := cal.ADCRefFromCode(3102)
	if err != nil {
		t.Fatalf("ADCRefFromCode: %v", err)
	}
	if ref != 3.3003 {
		t.Errorf("ADCRefFromCode(3102) = %v, want 3.3003", ref)
	}

	if _, err := cal.ADCRefFromCode(0); err == nil {
		t.Error("ADCRefFromCode(0): expected error")
	}
}

func TestPolarizationCurrent(t *testing.T) {
	cal := testCalibration(t, "V4")
	tests := []struct {
		configured, measured, loadR float64
		want                        float64
	}{
		{5, 5, 0, 0.8},   // low-voltage segment
		{12, 12, 0, 3.0}, // middle segment
		{20, 20, 0, 5.5}, // high-voltage segment
		{5, 5, 1000, 5.8},
	}
	for _, tt := range tests {
		got := cal.PolarizationCurrent(tt.configured, tt.measured, tt.loadR)
		if got != tt.want {
			t.Errorf("PolarizationCurrent(%g, %g, %g) = %g, want %g",
				tt.configured, tt.measured, tt.loadR, got, tt.want)
		}
	}
}

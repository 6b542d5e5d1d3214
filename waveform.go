// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Waveform is the JSON document written for one pulse.
type Waveform struct {
	Time              float64   `json:"time"` // unix epoch seconds
	Voltage           float64   `json:"voltage"`
	Port              string    `json:"port"`
	Contact           int       `json:"contact"`
	Polarity          int       `json:"polarity"`
	SamplingFrequency int       `json:"SF"` // Hz
	Data              []float64 `json:"data"`
}

// filename renders the per-pulse file name:
// <epoch>_<voltage>V_<port><contact>_<polarity>.json
func (w Waveform) filename() string {
	return fmt.Sprintf("%d_%vV_%s%d_%d.json",
		int64(w.Time), w.Voltage, w.Port, w.Contact, w.Polarity)
}

// writeWaveform serializes one pulse waveform into dir and returns the
// written path.
func writeWaveform(dir string, w Waveform) (string, error) {
	data, err := json.MarshalIndent(w, "", "    ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, w.filename())
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// AlignEdges trims the samples preceding the waveform's rising edge, i.e.
// everything before the first sample above zero. It is a display-time helper:
// the orchestration methods always return the raw, unaligned waveform.
func AlignEdges(profile []float64) []float64 {
	for i, v := range profile {
		if v > 0 {
			return profile[i:]
		}
	}
	return profile
}

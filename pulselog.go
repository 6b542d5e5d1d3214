// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// lowCurrentWarning is the annotation appended to a pulse log line whose
// peak current fell below the warning threshold.
const lowCurrentWarning = " *Warnings: Low current detected!"

// PulseEvent is one switch-actuation record.
type PulseEvent struct {
	Port       string
	Contact    int
	Polarity   int
	MaxCurrent float64 // peak of the waveform, mA
	Time       time.Time
	LowCurrent bool
}

func (ev PulseEvent) direction() string {
	if ev.Polarity != 0 {
		return "Connect"
	}
	return "Disconnect"
}

// Line renders the event in the append-only log format:
//
//	Connect   -> Port:A-3, CurrentMax:96 Timestamp:1714828391
func (ev PulseEvent) Line() string {
	line := fmt.Sprintf("%-10s-> Port:%s-%d, CurrentMax:%.0f Timestamp:%d",
		ev.direction(), ev.Port, ev.Contact, ev.MaxCurrent, ev.Time.Unix())
	if ev.LowCurrent {
		line += lowCurrentWarning
	}
	return line
}

var pulseLinePattern = regexp.MustCompile(
	`^(Connect|Disconnect)\s*-> Port:([A-D])-(\d), CurrentMax:(\d+) Timestamp:(\d+)(.*)$`)

// ParsePulseLine parses one log line back into a PulseEvent.
func ParsePulseLine(line string) (PulseEvent, error) {
	m := pulseLinePattern.FindStringSubmatch(strings.TrimRight(line, "\n"))
	if m == nil {
		return PulseEvent{}, fmt.Errorf("malformed pulse log line %q", line)
	}
	contact, _ := strconv.Atoi(m[3])
	maxmA, _ := strconv.ParseFloat(m[4], 64)
	epoch, _ := strconv.ParseInt(m[5], 10, 64)
	ev := PulseEvent{
		Port:       m[2],
		Contact:    contact,
		MaxCurrent: maxmA,
		Time:       time.Unix(epoch, 0),
		LowCurrent: strings.Contains(m[6], "Low current"),
	}
	if m[1] == "Connect" {
		ev.Polarity = 1
	}
	return ev, nil
}

// PulseLog is the append-only pulse history file. Lines are never rewritten.
type PulseLog struct {
	Path string

	// WarnBelow annotates entries whose peak current is under this many
	// milliamps.
	WarnBelow float64
}

// Init creates an empty log file if none exists.
func (p *PulseLog) Init() error {
	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Append writes exactly one line for the event.
func (p *PulseLog) Append(ev PulseEvent) error {
	if p.WarnBelow > 0 && ev.MaxCurrent < p.WarnBelow {
		ev.LowCurrent = true
	}
	ev.MaxCurrent = math.Round(ev.MaxCurrent)
	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(ev.Line() + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// History returns up to n most recent events, oldest first, optionally
// filtered by port. An empty port matches every entry.
func (p *PulseLog) History(port string, n int) ([]PulseEvent, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	var picked []PulseEvent
	for i := len(lines) - 1; i >= 0 && len(picked) < n; i-- {
		if lines[i] == "" {
			continue
		}
		if port != "" && !strings.Contains(lines[i], "Port:"+port+"-") {
			continue
		}
		ev, err := ParsePulseLine(lines[i])
		if err != nil {
			return nil, err
		}
		picked = append(picked, ev)
	}
	// reverse into chronological order
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked, nil
}

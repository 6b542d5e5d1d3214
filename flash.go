// Copyright (c) 2023-2026 The cryoswitch developers. All rights reserved.
// Project site: https://github.com/qphox/cryoswitch
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package cryoswitch

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

// dfuDevice is the USB identifier of the STM32 system bootloader.
const dfuDevice = "0483:df11"

// Flash reboots the board into its DFU bootloader and programs the given
// firmware image using an external dfu-util binary. The board must be
// reconnected afterwards; this Controller's transport is no longer valid
// once the device re-enumerates.
func (c *Controller) Flash(ctx context.Context, firmware string) error {
	if err := c.BootloaderMode(); err != nil {
		return err
	}
	// Give the USB stack time to re-enumerate the DFU device.
	time.Sleep(10 * c.settle)

	if err := findDFUDevice(ctx); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "dfu-util",
		"-d", dfuDevice,
		"-a", "0",
		"-s", "0x08000000:leave",
		"-D", firmware,
	)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting dfu-util: %w", err)
	}
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, "Download") || strings.Contains(strings.ToUpper(line), "DFU") {
			log.Printf("dfu-util: %s", strings.TrimSpace(line))
		}
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("dfu-util: %w", err)
	}
	log.Printf("flash ended, disconnect and power-cycle the device")
	return nil
}

// findDFUDevice verifies that exactly the expected bootloader shows up on
// the bus before any write is attempted.
func findDFUDevice(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "dfu-util", "-l").Output()
	if err != nil {
		return fmt.Errorf("listing DFU devices: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "Found DFU: ["+dfuDevice+"]") &&
			strings.Contains(line, "Internal Flash") {
			log.Printf("DFU device found: %s", strings.TrimSpace(line))
			return nil
		}
	}
	return fmt.Errorf("no DFU device %s found", dfuDevice)
}

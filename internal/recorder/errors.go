// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package recorder

import (
	"errors"
	"fmt"

	"github.com/OpenPSG/adsrecorder/internal/session"
)

var (
	// ErrAlreadyRecording is returned when a recording or contact check is running.
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	// ErrDirectoryNotConfirmed is returned when creating the missing recording
	// directory was refused.
	ErrDirectoryNotConfirmed = errors.New("recording directory does not exist")
	// ErrLowBattery ends a recording when the device reports a low battery.
	ErrLowBattery = errors.New("device battery is low, recording stopped")
	// ErrConnectionLost ends a recording when the device stops responding.
	ErrConnectionLost = errors.New("connection to the device lost, recording stopped")
)

// IOError is a file system failure that aborts a recording.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// StartError is returned when the device session did not accept the start.
type StartError struct {
	Result session.StartResult
	Err    error
}

func (e *StartError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to start recording: %s", e.Result)
	}
	return fmt.Sprintf("failed to start recording: %s: %v", e.Result, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

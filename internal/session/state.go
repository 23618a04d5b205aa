// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package session

import (
	"errors"
	"fmt"
)

// State of the device session.
type State int

const (
	StateUndefined State = iota // Not connected
	StateStopped                // Connected and monitoring the device
	StateStarting               // Waiting for the device to confirm and stream
	StateRecording              // Receiving data frames
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	default:
		return "undefined"
	}
}

// StartResult is the outcome of StartRecording.
type StartResult int

const (
	StartSuccess StartResult = iota
	StartAlreadyRecording
	StartWrongDeviceType
	StartFailedToSendCommand
)

func (r StartResult) String() string {
	switch r {
	case StartSuccess:
		return "success"
	case StartAlreadyRecording:
		return "already recording"
	case StartWrongDeviceType:
		return "wrong device type"
	default:
		return "failed to send command"
	}
}

var (
	// ErrNotConnected is returned by operations that need an open link.
	ErrNotConnected = errors.New("not connected")
	// ErrStartTimeout is carried by the start cancelled event when the device
	// did not confirm its type or did not stream in time.
	ErrStartTimeout = errors.New("device did not start in time")
	// ErrWrongDeviceType is returned when the connected device type differs
	// from the configuration.
	ErrWrongDeviceType = errors.New("wrong device type")
	// ErrStartCancelled is carried by the start cancelled event when the start
	// was stopped by the caller.
	ErrStartCancelled = errors.New("start cancelled")
)

// ConnectionErrorKind classifies connection failures.
type ConnectionErrorKind int

const (
	ConnectionOther ConnectionErrorKind = iota
	ConnectionBusy
	ConnectionNotFound
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case ConnectionBusy:
		return "busy"
	case ConnectionNotFound:
		return "not found"
	default:
		return "other"
	}
}

// ConnectionError is returned when the port cannot be opened.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("error connecting to %s (%s): %v", e.Port, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

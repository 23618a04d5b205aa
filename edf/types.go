// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import (
	"fmt"
	"strings"
	"time"
)

type Version string

const (
	// Version0 represents the version of the EDF/EDF+ standard.
	Version0 Version = "0"
	// VersionBDF is the version field of a 24-bit BioSemi data format file.
	VersionBDF Version = "\xFFBIOSEMI"
)

// ReservedBDF is the reserved header field of a BDF file.
const ReservedBDF = "24BIT"

// Format selects between the 16-bit and 24-bit variants of the file.
type Format int

const (
	FormatBDF Format = iota // 24-bit samples
	FormatEDF               // 16-bit samples
)

func (f Format) String() string {
	switch f {
	case FormatEDF:
		return "edf"
	default:
		return "bdf"
	}
}

// Extension returns the conventional file extension, including the dot.
func (f Format) Extension() string {
	return "." + f.String()
}

// Version returns the value of the version header field.
func (f Format) Version() Version {
	if f == FormatEDF {
		return Version0
	}
	return VersionBDF
}

// BytesPerSample returns the size of one sample in a data record.
func (f Format) BytesPerSample() int {
	if f == FormatEDF {
		return 2
	}
	return 3
}

// DigitalLimits returns the widest digital range a sample can hold.
func (f Format) DigitalLimits() (int, int) {
	if f == FormatEDF {
		return -1 << 15, 1<<15 - 1
	}
	return -1 << 23, 1<<23 - 1
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "bdf", "":
		*f = FormatBDF
	case "edf":
		*f = FormatEDF
	default:
		return fmt.Errorf("unknown file format %q", string(text))
	}
	return nil
}

// Header represents the EDF/EDF+ file header.
type Header struct {
	Version            Version       // Version of the EDF/EDF+ standard (usually "0")
	PatientID          string        // Identification of the patient
	RecordingID        string        // Identification of the recording session
	StartTime          time.Time     // Start date of the recording
	HeaderBytes        int           // Number of bytes in the header
	Reserved           string        // "24BIT" for BDF, empty for EDF
	DataRecords        int           // Number of data records, -1 if unknown
	DataRecordDuration time.Duration // Duration of a single data record
	SignalCount        int           // Number of signals in each data record
	Signals            []Signal      // Details of each signal
}

// Format infers the sample width from the version field.
func (h Header) Format() Format {
	if h.Version == VersionBDF {
		return FormatBDF
	}
	return FormatEDF
}

// RecordBytes returns the size in bytes of one data record.
func (h Header) RecordBytes() int {
	var samples int
	for _, s := range h.Signals {
		samples += s.SamplesPerRecord
	}
	return samples * h.Format().BytesPerSample()
}

// Signal represents the characteristics of each signal in the EDF/EDF+ file.
type Signal struct {
	Label             string  // Label of the signal (e.g., EEG Fpz-Cz)
	TransducerType    string  // Type of transducer used
	PhysicalDimension string  // Physical dimension (e.g., uV, mV)
	PhysicalMin       float64 // Minimum physical value
	PhysicalMax       float64 // Maximum physical value
	DigitalMin        int     // Minimum digital value
	DigitalMax        int     // Maximum digital value
	Prefiltering      string  // Pre-filtering information
	SamplesPerRecord  int     // Number of samples in each data record for this signal
	Reserved          string  // Reserved for future use
}

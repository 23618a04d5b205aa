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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Writer writes EDF and BDF files.
type Writer struct {
	w           io.WriteSeeker
	hdr         *Header
	format      Format
	dataRecords int // Number of data records written so far.
	buf         []byte
}

// Create creates a new writer that writes to the given writer. The sample
// width follows the header version.
func Create(w io.WriteSeeker, hdr Header) (*Writer, error) {
	hdr.DataRecords = -1 // Unknown number of data records (at this time).
	hdr.SignalCount = len(hdr.Signals)
	if hdr.Version == "" {
		hdr.Version = Version0
	}
	if hdr.Version == VersionBDF && hdr.Reserved == "" {
		hdr.Reserved = ReservedBDF
	}

	ew := &Writer{w: w, hdr: &hdr, format: hdr.Format()}

	if err := ew.validate(); err != nil {
		return nil, err
	}

	// Write the initial header
	if err := ew.writeHeader(); err != nil {
		return nil, fmt.Errorf("error writing header: %w", err)
	}

	return ew, nil
}

// Header returns a copy of the header as it will be finalized.
func (ew *Writer) Header() Header {
	hdr := *ew.hdr
	hdr.DataRecords = ew.dataRecords
	return hdr
}

// DataRecords returns the number of data records written so far.
func (ew *Writer) DataRecords() int {
	return ew.dataRecords
}

// Close finalizes the file by updating the header with the total number of data records.
func (ew *Writer) Close() error {
	// Finalize the header with the actual number of data records
	ew.hdr.DataRecords = ew.dataRecords
	if err := ew.writeHeader(); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	return nil
}

// WriteRecord writes a single data record of digital values. Values outside
// the digital range of their signal are clamped.
func (ew *Writer) WriteRecord(signals [][]int) error {
	if len(signals) != ew.hdr.SignalCount {
		return fmt.Errorf("expected %d signals, got %d", ew.hdr.SignalCount, len(signals))
	}
	for i, signal := range signals {
		if len(signal) != ew.hdr.Signals[i].SamplesPerRecord {
			return fmt.Errorf("signal %d: expected %d samples, got %d", i, ew.hdr.Signals[i].SamplesPerRecord, len(signal))
		}
	}

	width := ew.format.BytesPerSample()
	ew.buf = ew.buf[:0]
	for i, signal := range signals {
		dmin, dmax := ew.hdr.Signals[i].DigitalMin, ew.hdr.Signals[i].DigitalMax
		for _, sample := range signal {
			v := min(max(sample, dmin), dmax)
			ew.buf = append(ew.buf, byte(v), byte(v>>8))
			if width == 3 {
				ew.buf = append(ew.buf, byte(v>>16))
			}
		}
	}

	if _, err := ew.w.Write(ew.buf); err != nil {
		return err
	}

	ew.dataRecords++
	return nil
}

// WritePhysicalRecord converts physical values to digital ones using the
// calibration of each signal and writes them as one data record.
func (ew *Writer) WritePhysicalRecord(signals [][]float64) error {
	if len(signals) != ew.hdr.SignalCount {
		return fmt.Errorf("expected %d signals, got %d", ew.hdr.SignalCount, len(signals))
	}

	digital := make([][]int, len(signals))
	for i, signal := range signals {
		s := ew.hdr.Signals[i]
		digital[i] = make([]int, len(signal))
		for j, sample := range signal {
			digital[i][j] = convertPhysicalToDigital(sample, s.PhysicalMin, s.PhysicalMax, s.DigitalMin, s.DigitalMax)
		}
	}

	return ew.WriteRecord(digital)
}

func (ew *Writer) validate() error {
	lo, hi := ew.format.DigitalLimits()
	for i, s := range ew.hdr.Signals {
		if s.DigitalMin >= s.DigitalMax {
			return fmt.Errorf("signal %d: digital minimum %d must be below maximum %d", i, s.DigitalMin, s.DigitalMax)
		}
		if s.DigitalMin < lo || s.DigitalMax > hi {
			return fmt.Errorf("signal %d: digital range [%d, %d] does not fit %s samples", i, s.DigitalMin, s.DigitalMax, ew.format)
		}
		if s.SamplesPerRecord < 1 {
			return fmt.Errorf("signal %d: no samples per record", i)
		}
	}

	// As recommended by the EDF standard.
	if size := ew.hdr.RecordBytes(); ew.format == FormatEDF && size > 61440 {
		return fmt.Errorf("data record too large: %d bytes, max is 61440 bytes", size)
	}

	if len(formatNumber(ew.hdr.DataRecordDuration.Seconds())) > 8 {
		return fmt.Errorf("data record duration %s does not fit the header", ew.hdr.DataRecordDuration)
	}

	return nil
}

// WriteHeader writes the header to the start of the underlying writer.
func (ew *Writer) writeHeader() error {
	// Rewind to the beginning of the file.
	_, err := ew.w.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(ew.w)

	ew.hdr.HeaderBytes = 256 + (ew.hdr.SignalCount * 256)

	fields := []string{
		pad(string(ew.hdr.Version), 8),
		pad(ew.hdr.PatientID, 80),
		pad(ew.hdr.RecordingID, 80),
		pad(ew.hdr.StartTime.Format("02.01.06"), 8),
		pad(ew.hdr.StartTime.Format("15.04.05"), 8),
		pad(strconv.Itoa(ew.hdr.HeaderBytes), 8),
		pad(ew.hdr.Reserved, 44),
		pad(strconv.Itoa(ew.hdr.DataRecords), 8),
		pad(formatNumber(ew.hdr.DataRecordDuration.Seconds()), 8),
		pad(strconv.Itoa(ew.hdr.SignalCount), 4),
	}
	for _, field := range fields {
		if _, err := writer.WriteString(field); err != nil {
			return err
		}
	}

	// Signal details are stored field by field, one column per signal.
	columns := []func(Signal) string{
		func(s Signal) string { return pad(s.Label, 16) },
		func(s Signal) string { return pad(s.TransducerType, 80) },
		func(s Signal) string { return pad(s.PhysicalDimension, 8) },
		func(s Signal) string { return formatPhysicalValue(s.PhysicalMin) },
		func(s Signal) string { return formatPhysicalValue(s.PhysicalMax) },
		func(s Signal) string { return pad(strconv.Itoa(s.DigitalMin), 8) },
		func(s Signal) string { return pad(strconv.Itoa(s.DigitalMax), 8) },
		func(s Signal) string { return pad(s.Prefiltering, 80) },
		func(s Signal) string { return pad(strconv.Itoa(s.SamplesPerRecord), 8) },
		func(s Signal) string { return pad(s.Reserved, 32) },
	}
	for _, column := range columns {
		for _, signal := range ew.hdr.Signals {
			if _, err := writer.WriteString(column(signal)); err != nil {
				return err
			}
		}
	}

	// Ensure all data is flushed to the underlying writer
	if err := writer.Flush(); err != nil {
		return err
	}

	// Leave the writer positioned after the last data record.
	_, err = ew.w.Seek(int64(ew.hdr.HeaderBytes)+int64(ew.dataRecords)*int64(ew.hdr.RecordBytes()), io.SeekStart)
	return err
}

// convertPhysicalToDigital converts a physical value to a digital value using the calibration factors.
func convertPhysicalToDigital(physical float64, pmin, pmax float64, dmin, dmax int) int {
	if pmax == pmin {
		return 0 // Avoid division by zero
	}
	digital := ((physical - pmin) * (float64(dmax - dmin)) / (pmax - pmin)) + float64(dmin)
	return int(digital)
}

func formatPhysicalValue(val float64) string {
	// Try with 2 decimal places
	s := fmt.Sprintf("%.2f", val)
	if len(s) > 8 {
		// Fall back to no decimal
		s = fmt.Sprintf("%.0f", val)
	}
	return pad(s, 8)
}

// formatNumber renders a value with as many decimals as fit in 8 characters.
func formatNumber(val float64) string {
	s := strconv.FormatFloat(val, 'f', -1, 64)
	for prec := 6; len(s) > 8 && prec >= 0; prec-- {
		s = strconv.FormatFloat(val, 'f', prec, 64)
	}
	return s
}

// pad fits s into exactly n bytes, space padded on the right.
func pad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/OpenPSG/adsrecorder/edf"
	"github.com/OpenPSG/adsrecorder/internal/config"
	"github.com/OpenPSG/adsrecorder/internal/journal"
	"github.com/OpenPSG/adsrecorder/internal/serialport"
	"github.com/dustin/go-humanize"
)

// Inspect prints the header of the EDF or BDF file at path.
func Inspect(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	er, err := edf.Open(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	hdr := er.Header()

	total := time.Duration(hdr.DataRecords) * hdr.DataRecordDuration

	fmt.Fprintf(w, "File:       %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
	fmt.Fprintf(w, "Format:     %s\n", hdr.Format())
	fmt.Fprintf(w, "Patient:    %s\n", hdr.PatientID)
	fmt.Fprintf(w, "Recording:  %s\n", hdr.RecordingID)
	fmt.Fprintf(w, "Start:      %s\n", hdr.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Records:    %s x %s (%s)\n", humanize.Comma(int64(hdr.DataRecords)), hdr.DataRecordDuration, total)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLABEL\tUNIT\tPHYSICAL\tDIGITAL\tSAMPLES\tPREFILTER\tMEAN")
	for i, s := range hdr.Signals {
		mean, err := firstRecordMean(er, i)
		if err != nil {
			return fmt.Errorf("failed to read signal %d: %w", i+1, err)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%g..%g\t%d..%d\t%d\t%s\t%s\n", i+1,
			s.Label, s.PhysicalDimension, s.PhysicalMin, s.PhysicalMax,
			s.DigitalMin, s.DigitalMax, s.SamplesPerRecord, s.Prefiltering, mean)
	}

	return tw.Flush()
}

// firstRecordMean averages the physical values of a signal in the first data record.
func firstRecordMean(er *edf.Reader, signal int) (string, error) {
	sr, err := er.Signal(signal)
	if err != nil {
		return "", err
	}

	data := make([]float64, er.Header().Signals[signal].SamplesPerRecord)
	n, err := sr.Read(data)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if n == 0 {
		return "-", nil
	}

	var sum float64
	for _, v := range data[:n] {
		sum += v
	}
	return fmt.Sprintf("%.2f", sum/float64(n)), nil
}

// Ports prints the serial ports present on the system.
func Ports(w io.Writer) error {
	ports, err := serialport.List()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tUSB\tPRODUCT\tSERIAL")
	for _, p := range ports {
		usb := "-"
		if p.USB {
			usb = p.VID + ":" + p.PID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, usb, p.Product, p.SerialNumber)
	}

	return tw.Flush()
}

// History prints the recordings in the journal, newest first.
func History(ctx context.Context, w io.Writer, cfg config.JournalConfig) error {
	if !cfg.Enabled {
		return errors.New("the journal is disabled")
	}
	if _, err := os.Stat(cfg.Path); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(w, "No recordings")
		return nil
	}

	j := journal.New(cfg.Path)
	defer j.Close()

	entries, err := j.Entries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No recordings")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDEVICE\tSTATUS\tDURATION\tRECORDS\tPATH")
	for _, e := range entries {
		duration := "-"
		if e.StopTime != nil {
			duration = e.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartTime.Local().Format("2006-01-02 15:04:05"), e.DeviceType, e.Status,
			duration, humanize.Comma(e.RecordCount), e.Path)
	}

	return tw.Flush()
}

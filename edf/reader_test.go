// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenPSG/adsrecorder/edf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader(t *testing.T) {
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "multi.bdf"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})

	ew, err := edf.Create(f, edf.Header{
		Version:            edf.VersionBDF,
		PatientID:          "Zoë",
		RecordingID:        "Startdate X",
		StartTime:          startTime,
		DataRecordDuration: time.Second,
		Signals: []edf.Signal{
			{Label: "Channel 1", PhysicalDimension: "uV", PhysicalMin: -100, PhysicalMax: 100, DigitalMin: -1000, DigitalMax: 1000, SamplesPerRecord: 4},
			{Label: "Channel 2", PhysicalDimension: "uV", PhysicalMin: -100, PhysicalMax: 100, DigitalMin: -1000, DigitalMax: 1000, SamplesPerRecord: 2},
		},
	})
	require.NoError(t, err)

	require.NoError(t, ew.WriteRecord([][]int{{0, 10, 20, 30}, {-1000, 1000}}))
	require.NoError(t, ew.WriteRecord([][]int{{40, 50, 60, 70}, {0, 500}}))
	require.NoError(t, ew.Close())

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	er, err := edf.Open(f)
	require.NoError(t, err)

	hdr := er.Header()
	assert.Equal(t, "Zoë", hdr.PatientID)
	assert.Equal(t, "Startdate X", hdr.RecordingID)
	assert.Equal(t, 256*3, hdr.HeaderBytes)
	assert.Equal(t, "uV", hdr.Signals[1].PhysicalDimension)
	assert.InDelta(t, -100, hdr.Signals[1].PhysicalMin, 0.001)

	sr, err := er.Signal(1)
	require.NoError(t, err)

	samples := make([]float64, 4)
	n, err := sr.Read(samples)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	assert.InDelta(t, -100, samples[0], 0.001)
	assert.InDelta(t, 100, samples[1], 0.001)
	assert.InDelta(t, 0, samples[2], 0.001)
	assert.InDelta(t, 50, samples[3], 0.001)

	sr, err = er.Signal(0)
	require.NoError(t, err)

	samples = make([]float64, 10)
	n, err = sr.Read(samples)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 8, n)
	assert.InDelta(t, 7, samples[7], 0.001)

	_, err = er.Signal(2)
	require.Error(t, err)
}

func TestReaderUnfinalizedFile(t *testing.T) {
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "partial.edf"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})

	ew, err := edf.Create(f, edf.Header{
		StartTime:          startTime,
		DataRecordDuration: time.Second,
		Signals:            []edf.Signal{{Label: "A", DigitalMin: -10, DigitalMax: 10, SamplesPerRecord: 2}},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, ew.WriteRecord([][]int{{i, -i}}))
	}

	// No Close, the header still declares an unknown record count.
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	er, err := edf.Open(f)
	require.NoError(t, err)
	require.Equal(t, 3, er.Header().DataRecords)

	rec, err := er.ReadRecord(2)
	require.NoError(t, err)
	require.Equal(t, [][]int{{2, -2}}, rec)
}

func TestReaderRejectsTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.edf")
	require.NoError(t, os.WriteFile(path, []byte("0       garbage"), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})

	_, err = edf.Open(f)
	require.Error(t, err)
}

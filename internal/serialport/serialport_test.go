// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package serialport

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/OpenPSG/adsrecorder/internal/simulator"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestOpenMock(t *testing.T) {
	port, err := Open("mock", 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, port.Close())
	})
	require.IsType(t, &simulator.Device{}, port)

	_, err = port.Write([]byte{ads.CmdHardwareRequest})
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := port.Read(buf)
	require.NoError(t, err)
	require.Equal(t, ads.EncodeDeviceTypeMessage(ads.Type8Channel), buf[:n])
}

func TestOpenMissingPort(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "ttyNOPE"), DefaultBaudRate)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	// The zero PortError carries the PortBusy code.
	busy := classify(&serial.PortError{})
	require.ErrorIs(t, busy, ErrPortBusy)
	require.False(t, errors.Is(busy, ErrPortNotFound))

	plain := errors.New("boom")
	require.Equal(t, plain, classify(plain))
}

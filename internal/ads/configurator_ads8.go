// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ads

// ADS1298 register map.
const (
	ads8RegConfig1 byte = 0x01
	ads8RegConfig4 byte = 0x17

	ads8HighRes       byte = 0x80
	ads8Config2Base   byte = 0x20
	ads8Config2Test   byte = 1 << 4
	ads8Config3Base   byte = 0xC0 // Internal reference buffer on
	ads8Config3RLDRef byte = 1 << 3
	ads8Config3RLDPD  byte = 1 << 2
	ads8LOFF          byte = 0x00
	ads8Config4LOFF   byte = 1 << 1
)

// ADS1298 CONFIG1 data rate codes in high resolution mode.
var ads8DataRates = map[SampleRate]byte{
	SampleRate500:  0x06,
	SampleRate1000: 0x05,
	SampleRate2000: 0x04,
}

type configurator8Ch struct{}

func (configurator8Ch) ConfigurationCommand(cfg DeviceConfig) ([]byte, error) {
	config2 := ads8Config2Base
	if anyTestSignal(cfg) {
		config2 |= ads8Config2Test
	}
	config3 := ads8Config3Base
	if anyRLDSense(cfg) {
		config3 |= ads8Config3RLDRef | ads8Config3RLDPD
	}

	values := []byte{
		ads8HighRes | ads8DataRates[cfg.SampleRate],
		config2,
		config3,
		ads8LOFF,
	}
	var rldSensP, rldSensN, loffSensP, loffSensN byte
	for i, ch := range cfg.Channels {
		values = append(values, channelSet(ch))
		if !ch.Enabled {
			continue
		}
		if ch.RLDSenseEnabled {
			rldSensP |= 1 << i
			rldSensN |= 1 << i
		}
		if ch.LeadOffEnabled {
			loffSensP |= 1 << i
			loffSensN |= 1 << i
		}
	}
	values = append(values, rldSensP, rldSensN, loffSensP, loffSensN, 0x00) // LOFF_FLIP

	var config4 byte
	if cfg.LeadOffEnabled() {
		config4 |= ads8Config4LOFF
	}

	return assemble(
		controllerSection(cfg),
		registerSection(ads8RegConfig1, values...),
		registerSection(ads8RegConfig4, config4),
	), nil
}

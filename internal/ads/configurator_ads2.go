// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ads

// ADS1292 register map.
const (
	ads2RegConfig1 byte = 0x01

	ads2Config2Base   byte = 0xA0 // Reserved bit 7, reference buffer on
	ads2Config2LOFF   byte = 1 << 6
	ads2Config2Test   byte = 1 << 1
	ads2Config2TestHz byte = 1 << 0
	ads2LOFF          byte = 0x10
	ads2RLDSensPDB    byte = 1 << 5
	ads2Resp1         byte = 0x02
	ads2Resp2         byte = 0x03
)

// ADS1292 CONFIG1 data rate codes.
var ads2DataRates = map[SampleRate]byte{
	SampleRate500:  0x02,
	SampleRate1000: 0x03,
	SampleRate2000: 0x04,
}

type configurator2Ch struct{}

func (configurator2Ch) ConfigurationCommand(cfg DeviceConfig) ([]byte, error) {
	config2 := ads2Config2Base
	if cfg.LeadOffEnabled() {
		config2 |= ads2Config2LOFF
	}
	if anyTestSignal(cfg) {
		config2 |= ads2Config2Test | ads2Config2TestHz
	}

	// RLD_SENS and LOFF_SENS: bit 2i is IN(i)P, bit 2i+1 is IN(i)N.
	var rldSens, loffSens byte
	for i, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		if ch.RLDSenseEnabled {
			rldSens |= 0x03 << (2 * i)
		}
		if ch.LeadOffEnabled {
			loffSens |= 0x03 << (2 * i)
		}
	}
	if anyRLDSense(cfg) {
		rldSens |= ads2RLDSensPDB
	}

	regs := registerSection(ads2RegConfig1,
		ads2DataRates[cfg.SampleRate],
		config2,
		ads2LOFF,
		channelSet(cfg.Channels[0]),
		channelSet(cfg.Channels[1]),
		rldSens,
		loffSens,
		0x00, // LOFF_STAT
		ads2Resp1,
		ads2Resp2,
	)

	return assemble(controllerSection(cfg), regs), nil
}

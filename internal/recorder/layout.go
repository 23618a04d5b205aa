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
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/OpenPSG/adsrecorder/edf"
	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/OpenPSG/adsrecorder/internal/pipeline"
)

const (
	// Full scale input of the ADS channels at unity gain, in microvolts.
	adsFullScale = 2_400_000
	// Digital range of a 24 bit ADS sample.
	adsDigitalRange = 1 << 23

	transducerUnknown = "Unknown"
)

// Plan is the processing applied to the records of one recording.
type Plan struct {
	Chain   *pipeline.Chain
	Signals []ads.SignalSlot // Device signals written to the file, in file order
	Filters map[int]string   // Prefiltering of file signals by output index
}

// NewPlan builds the record pipeline for a device configuration. Records are
// joined up to recordDuration, optionally reduced to one sample count,
// filtered against mains noise and stripped of the telemetry signals.
func NewPlan(cfg ads.DeviceConfig, recordDuration time.Duration, uniform bool) (*Plan, error) {
	layout := cfg.Layout()
	in := pipeline.Layout{Duration: cfg.FrameDuration()}
	for _, s := range layout.Signals {
		in.Samples = append(in.Samples, s.Samples)
	}

	n, err := pipeline.JoinFactor(in.Duration, recordDuration)
	if err != nil {
		return nil, err
	}
	resample := func() []pipeline.Stage {
		stages := []pipeline.Stage{pipeline.NewJoiner(n)}
		if uniform {
			stages = append(stages, pipeline.NewFrequencyReducer(0))
		}
		return stages
	}

	// Filter windows follow the sample rates after resampling.
	probe, err := pipeline.NewChain(in, resample()...)
	if err != nil {
		return nil, err
	}
	resampled := probe.Layout()

	filter := pipeline.NewChannelFilter()
	filtered := make(map[int]bool)
	var remove []int
	for i, s := range layout.Signals {
		switch s.Kind {
		case ads.SignalADS:
			if cfg.Channels[s.Index].Filter50Hz {
				rate := int(math.Round(float64(resampled.Samples[i]) / resampled.Duration.Seconds()))
				filter.Add(i, pipeline.NewMovingAverage(pipeline.NotchWindow(rate)))
				filtered[i] = true
			}
		case ads.SignalBattery, ads.SignalLeadOff:
			remove = append(remove, i)
		}
	}
	remover := pipeline.NewChannelRemover(remove...)

	chain, err := pipeline.NewChain(in, append(resample(), filter, remover)...)
	if err != nil {
		return nil, err
	}

	p := &Plan{Chain: chain, Filters: make(map[int]string)}
	for out, i := range remover.Kept() {
		p.Signals = append(p.Signals, layout.Signals[i])
		if filtered[i] {
			p.Filters[out] = fmt.Sprintf("MovAvg:%dHz", pipeline.MainsFrequency)
		}
	}

	return p, nil
}

// Header returns the file header describing the records produced by the plan.
func (p *Plan) Header(cfg ads.DeviceConfig, format edf.Format, patientID, recordingID string, start time.Time) edf.Header {
	out := p.Chain.Layout()

	hdr := edf.Header{
		Version:            format.Version(),
		PatientID:          patientID,
		RecordingID:        recordingID,
		StartTime:          start,
		DataRecordDuration: out.Duration,
	}
	for i, s := range p.Signals {
		sig := signalDescriptor(cfg, s, format)
		sig.SamplesPerRecord = out.Samples[i]
		sig.Prefiltering = p.Filters[i]
		hdr.Signals = append(hdr.Signals, sig)
	}

	return hdr
}

func signalDescriptor(cfg ads.DeviceConfig, s ads.SignalSlot, format edf.Format) edf.Signal {
	_, hi := format.DigitalLimits()

	switch s.Kind {
	case ads.SignalADS:
		ch := cfg.Channels[s.Index]
		label := ch.Name
		if label == "" {
			label = fmt.Sprintf("Channel %d", s.Index+1)
		}

		full := adsDigitalRange / cfg.NoiseDivider
		limit := min(full, hi)
		// Microvolts per digital unit after the noise divider.
		lsb := float64(adsFullScale) / float64(ch.Gain) / float64(full)

		return edf.Signal{
			Label:             label,
			TransducerType:    transducerUnknown,
			PhysicalDimension: "uV",
			PhysicalMin:       -float64(limit) * lsb,
			PhysicalMax:       float64(limit) * lsb,
			DigitalMin:        -limit,
			DigitalMax:        limit,
		}

	case ads.SignalAccelerometer:
		if cfg.Accelerometer.OneChannelMode {
			limit := min(1<<16-1, hi)
			return edf.Signal{
				Label:             "Accelerometer",
				TransducerType:    transducerUnknown,
				PhysicalDimension: "m/s^3",
				PhysicalMin:       0,
				PhysicalMax:       float64(limit),
				DigitalMin:        0,
				DigitalMax:        limit,
			}
		}
		return edf.Signal{
			Label:             fmt.Sprintf("Accelerometer %c", 'X'+s.Index),
			TransducerType:    transducerUnknown,
			PhysicalDimension: "mg",
			PhysicalMin:       -1000,
			PhysicalMax:       1000,
			DigitalMin:        9610,
			DigitalMax:        14670,
		}

	default:
		return edf.Signal{
			Label:          s.Kind.String(),
			TransducerType: transducerUnknown,
			PhysicalMin:    float64(-hi),
			PhysicalMax:    float64(hi),
			DigitalMin:     -hi,
			DigitalMax:     hi,
		}
	}
}

// FileName returns the path of a recording started at start:
// <directory>/<yyyy-MM-dd_HH-mm-ss>[_<name>].<bdf|edf>
func FileName(directory, name string, start time.Time, format edf.Format) string {
	base := start.Format("2006-01-02_15-04-05")
	if name != "" {
		base += "_" + name
	}
	return filepath.Join(directory, base+format.Extension())
}

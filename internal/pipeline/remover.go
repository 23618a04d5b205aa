// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package pipeline

import "slices"

// ChannelRemover drops signals from every record. Signals after a removed
// one move up to fill the gap.
type ChannelRemover struct {
	remove []int
	keep   []int
}

// NewChannelRemover creates a stage removing the given signal indices.
func NewChannelRemover(signals ...int) *ChannelRemover {
	return &ChannelRemover{remove: signals}
}

// Kept returns the input indices of the signals that survive, in output order.
func (r *ChannelRemover) Kept() []int {
	return r.keep
}

func (r *ChannelRemover) Configure(in Layout) (Layout, error) {
	for _, s := range r.remove {
		if s < 0 || s >= in.SignalCount() {
			return Layout{}, configErrorf("channel remover", "signal %d out of range [0, %d)", s, in.SignalCount())
		}
	}

	r.keep = r.keep[:0]
	out := Layout{Duration: in.Duration}
	for i, n := range in.Samples {
		if slices.Contains(r.remove, i) {
			continue
		}
		r.keep = append(r.keep, i)
		out.Samples = append(out.Samples, n)
	}
	if len(out.Samples) == 0 {
		return Layout{}, configErrorf("channel remover", "every signal removed")
	}
	return out, nil
}

func (r *ChannelRemover) Process(rec Record) (Record, bool) {
	out := make(Record, len(r.keep))
	for i, s := range r.keep {
		out[i] = rec[s]
	}
	return out, true
}

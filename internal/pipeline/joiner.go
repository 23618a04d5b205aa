// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package pipeline

import "time"

// Joiner concatenates n consecutive records into one.
type Joiner struct {
	n       int
	samples []int
	buf     Record
	count   int
}

// NewJoiner creates a joiner that emits one record every n inputs.
func NewJoiner(n int) *Joiner {
	return &Joiner{n: n}
}

// JoinFactor returns how many records of the given duration make up the
// target duration. It fails unless the target is an exact multiple.
func JoinFactor(record, target time.Duration) (int, error) {
	if record <= 0 || target < record || target%record != 0 {
		return 0, configErrorf("joiner", "record duration %s does not divide %s", record, target)
	}
	return int(target / record), nil
}

func (j *Joiner) Configure(in Layout) (Layout, error) {
	if j.n < 1 {
		return Layout{}, configErrorf("joiner", "join factor must be positive, got %d", j.n)
	}

	j.samples = append([]int(nil), in.Samples...)
	j.reset()

	out := Layout{Samples: make([]int, len(in.Samples)), Duration: in.Duration * time.Duration(j.n)}
	for i, s := range in.Samples {
		out.Samples[i] = s * j.n
	}
	return out, nil
}

func (j *Joiner) Process(rec Record) (Record, bool) {
	for i, block := range rec {
		j.buf[i] = append(j.buf[i], block...)
	}
	j.count++
	if j.count < j.n {
		return nil, false
	}

	out := j.buf
	j.reset()
	return out, true
}

// Flush completes a partially joined record by repeating the last input
// record, the same way lost frames are filled in.
func (j *Joiner) Flush() (Record, bool) {
	if j.count == 0 {
		return nil, false
	}

	for ; j.count < j.n; j.count++ {
		for i, s := range j.samples {
			last := j.buf[i][len(j.buf[i])-s:]
			j.buf[i] = append(j.buf[i], last...)
		}
	}

	out := j.buf
	j.reset()
	return out, true
}

func (j *Joiner) reset() {
	j.count = 0
	j.buf = make(Record, len(j.samples))
	for i, s := range j.samples {
		j.buf[i] = make([]int, 0, s*j.n)
	}
}

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
	"errors"
	"fmt"
	"os"
)

// File is a Writer backed by a file on disk.
type File struct {
	*Writer
	f       *os.File
	path    string
	closed  bool
	removed bool
}

// CreateFile creates the file at path and writes the initial header.
func CreateFile(path string, hdr Header) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	w, err := Create(f, hdr)
	if err != nil {
		return nil, errors.Join(err, f.Close(), os.Remove(path))
	}

	return &File{Writer: w, f: f, path: path}, nil
}

// Path returns the location of the file.
func (f *File) Path() string {
	return f.path
}

// Removed reports whether Close deleted the file because it held no data records.
func (f *File) Removed() bool {
	return f.removed
}

// Close finalizes the header and closes the file. A file without any data
// record is deleted instead. Close may be called more than once.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if f.DataRecords() == 0 {
		f.removed = true
		if err := f.f.Close(); err != nil {
			return err
		}
		return os.Remove(f.path)
	}

	if err := f.Writer.Close(); err != nil {
		_ = f.f.Close()
		return err
	}
	if err := f.f.Sync(); err != nil {
		_ = f.f.Close()
		return fmt.Errorf("error syncing file: %w", err)
	}
	return f.f.Close()
}

// Size returns the number of bytes the file holds once finalized.
func (f *File) Size() int64 {
	hdr := f.Header()
	return int64(hdr.HeaderBytes) + int64(hdr.DataRecords)*int64(hdr.RecordBytes())
}

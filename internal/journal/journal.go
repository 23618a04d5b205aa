// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package journal keeps a SQLite catalog of the recordings made.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no recording has the requested id.
var ErrNotFound = errors.New("recording not found")

// Status of a journal entry.
type Status string

const (
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry describes one recording.
type Entry struct {
	ID          string
	Path        string
	DeviceType  string
	StartTime   time.Time
	StopTime    *time.Time // Nil while recording
	RecordCount int64
	Status      Status
	Config      string // YAML of the device configuration
}

// Duration returns how long the recording lasted, zero while it is running.
func (e Entry) Duration() time.Duration {
	if e.StopTime == nil {
		return 0
	}
	return e.StopTime.Sub(e.StartTime)
}

// Journal is the recordings catalog. The database is opened on first use.
type Journal struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a journal stored at dbPath.
func New(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) getDB() (*sql.DB, error) {
	j.dbOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(j.dbPath), 0o755); err != nil {
			j.dbErr = fmt.Errorf("creating journal directory: %w", err)
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", j.dbPath, "_journal_mode=WAL&_busy_timeout=5000"))
		if err != nil {
			j.dbErr = fmt.Errorf("opening database: %w", err)
			return
		}

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			j.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		j.db = db
	})

	return j.db, j.dbErr
}

// Begin records the start of a recording and returns its id, a new one when
// id is empty. The device configuration is stored as YAML.
func (j *Journal) Begin(ctx context.Context, id, path, deviceType string, start time.Time, config any) (string, error) {
	var err error
	var configData sql.NullString
	if config != nil {
		var p []byte
		if p, err = yaml.Marshal(config); err != nil {
			return "", fmt.Errorf("marshaling config: %w", err)
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}

	db, err := j.getDB()
	if err != nil {
		return "", err
	}

	if id == "" {
		id = uuid.NewString()
	}
	if _, err = db.ExecContext(ctx, insertRecordingSQL, id, path, deviceType, start.UTC(), StatusRecording, configData); err != nil {
		return "", fmt.Errorf("inserting recording: %w", err)
	}

	return id, nil
}

// Finish records the end of a recording.
func (j *Journal) Finish(ctx context.Context, id string, recordCount int64, stop time.Time, status Status) error {
	db, err := j.getDB()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, finishRecordingSQL, stop.UTC(), recordCount, status, id)
	if err != nil {
		return fmt.Errorf("updating recording: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating recording: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// Entry returns the recording with the given id.
func (j *Journal) Entry(ctx context.Context, id string) (*Entry, error) {
	db, err := j.getDB()
	if err != nil {
		return nil, err
	}

	e, err := scanEntry(db.QueryRowContext(ctx, selectRecordingSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if err != nil {
		return nil, err
	}

	return e, nil
}

// Entries returns every recording, most recent first.
func (j *Journal) Entries(ctx context.Context) (entries []*Entry, err error) {
	db, err := j.getDB()
	if err != nil {
		return
	}

	rows, err := db.QueryContext(ctx, selectRecordingsSQL)
	if err != nil {
		err = fmt.Errorf("querying recordings: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var e *Entry
		if e, err = scanEntry(rows); err != nil {
			return
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	return
}

// Close releases the database.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		if j.db != nil {
			j.closeErr = j.db.Close()
			j.db = nil
		}
	})
	return j.closeErr
}

func scanEntry(row interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		e      Entry
		stop   sql.NullTime
		config sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Path, &e.DeviceType, &e.StartTime, &stop, &e.RecordCount, &e.Status, &config); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning recording: %w", err)
	}
	if stop.Valid {
		e.StopTime = &stop.Time
	}
	e.Config = config.String
	return &e, nil
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

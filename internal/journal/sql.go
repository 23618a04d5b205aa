// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package journal

import (
	_ "embed"
)

const (
	insertRecordingSQL = `
INSERT INTO recordings (
                        id,
                        path,
                        device_type,
                        start_time,
                        record_count,
                        status,
                        config)
VALUES (?, ?, ?, ?, 0, ?, ?)`

	finishRecordingSQL = `
UPDATE recordings
SET
    stop_time = ?,
    record_count = ?,
    status = ?
WHERE
    id = ?`

	selectRecordingSQL = `
SELECT
    id,
    path,
    device_type,
    start_time,
    stop_time,
    record_count,
    status,
    config
FROM recordings
WHERE
    id = ?`

	selectRecordingsSQL = `
SELECT
    id,
    path,
    device_type,
    start_time,
    stop_time,
    record_count,
    status,
    config
FROM recordings
ORDER BY start_time DESC`
)

//go:embed schema.sql
var initSchemaSQL string

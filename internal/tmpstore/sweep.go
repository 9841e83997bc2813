// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package tmpstore

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sessionPrefix starts every session directory name.
const sessionPrefix = "lakesort-"

// SweepStale removes session directories under parent last modified more
// than maxAge ago. They are left behind by processes that died before
// cleaning up. It returns how many were removed.
func SweepStale(parent string, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		slog.Debug("Failed to read temp dir (ignoring)", slog.String("path", parent), slog.Any("error", err))
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), sessionPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(parent, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Failed to remove stale temp session", slog.String("path", path), slog.Any("error", err))
			continue
		}
		slog.Info("Removed stale temp session", slog.String("path", path), slog.Time("modified", info.ModTime()))
		removed++
	}
	return removed
}

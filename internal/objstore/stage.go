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

package objstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds simultaneous downloads.
const DefaultConcurrency = 4

// Staged is an input ready to open locally.
type Staged struct {
	Location Location
	// Path is the local file, empty for stdin.
	Path string
	// Temp is true when Path was downloaded and should be removed.
	Temp bool
}

// ErrStdinTwice is returned when stdin is named as more than one input.
var ErrStdinTwice = errors.New("stdin may be named only once")

// Stage downloads every remote location into tmpdir. Local and stdin
// locations pass through, after checking local files exist. The result
// keeps the order of locs. On error, files already downloaded are removed.
func Stage(ctx context.Context, r *Resolver, tmpdir string, locs []Location, concurrency int) ([]Staged, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if err := checkLocal(locs); err != nil {
		return nil, err
	}
	staged := make([]Staged, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, loc := range locs {
		staged[i] = Staged{Location: loc, Path: loc.Path}
		if !loc.Remote() {
			continue
		}
		g.Go(func() error {
			client, err := r.ClientFor(gctx, loc)
			if err != nil {
				return err
			}
			name, size, notFound, err := client.DownloadObject(gctx, tmpdir, loc.Bucket, loc.Key)
			if err != nil {
				return err
			}
			if notFound {
				return fmt.Errorf("%s: %w", loc, ErrNotFound)
			}
			slog.Debug("Staged input", slog.String("location", loc.String()), slog.String("path", name), slog.Int64("bytes", size))
			staged[i].Path = name
			staged[i].Temp = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		Release(staged)
		return nil, err
	}
	return staged, nil
}

func checkLocal(locs []Location) error {
	stdin := 0
	for _, loc := range locs {
		switch loc.Scheme {
		case SchemeStdio:
			if stdin++; stdin > 1 {
				return ErrStdinTwice
			}
		case SchemeLocal:
			if _, err := os.Stat(loc.Path); err != nil {
				return fmt.Errorf("input: %w", err)
			}
		}
	}
	return nil
}

// Release removes downloaded temp files.
func Release(staged []Staged) {
	for _, s := range staged {
		if !s.Temp || s.Path == "" {
			continue
		}
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove staged input", slog.String("path", s.Path), slog.Any("error", err))
		}
	}
}

// Publish uploads the local file src to loc.
func Publish(ctx context.Context, r *Resolver, loc Location, src string) error {
	client, err := r.ClientFor(ctx, loc)
	if err != nil {
		return err
	}
	if err := client.UploadObject(ctx, loc.Bucket, loc.Key, src); err != nil {
		return fmt.Errorf("upload %s: %w", loc, err)
	}
	return nil
}

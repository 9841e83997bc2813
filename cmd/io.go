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

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/lakesort/internal/linesort"
	"github.com/cardinalhq/lakesort/internal/objstore"
)

func parseLocations(args []string) ([]objstore.Location, error) {
	if len(args) == 0 {
		args = []string{"-"}
	}
	locs := make([]objstore.Location, 0, len(args))
	for _, a := range args {
		loc, err := objstore.ParseURL(a)
		if err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// openSources wraps every staged input in a reader that opens on first
// read, so a sort over many files never holds more than one of them open.
// The returned func closes whatever is still open.
func openSources(staged []objstore.Staged, stdin io.Reader) ([]linesort.Source, func() error) {
	inputs := make([]*objstore.LazyInput, 0, len(staged))
	sources := make([]linesort.Source, 0, len(staged))
	for _, s := range staged {
		in := objstore.OpenLazy(s, stdin)
		inputs = append(inputs, in)
		sources = append(sources, linesort.Source{Name: s.Location.String(), Reader: in})
	}
	closeAll := func() error {
		var errs *multierror.Error
		for _, in := range inputs {
			if err := in.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		return errs.ErrorOrNil()
	}
	return sources, closeAll
}

// output is where sorted records go. Files are written under a temporary
// name and only replace the destination on commit, so an input may also be
// the output.
type output struct {
	io.Writer
	file   *os.File
	commit func(ctx context.Context) error
}

func openOutput(name string, stdout io.Writer, resolver *objstore.Resolver, stageDir string) (*output, error) {
	if name == "" || name == "-" {
		return &output{Writer: stdout, commit: func(context.Context) error { return nil }}, nil
	}
	loc, err := objstore.ParseURL(name)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}

	if loc.Remote() {
		f, err := os.CreateTemp(stageDir, "lakesort-output-*")
		if err != nil {
			return nil, fmt.Errorf("create staged output: %w", err)
		}
		return &output{Writer: f, file: f, commit: func(ctx context.Context) error {
			defer removeQuietly(f.Name())
			if err := f.Close(); err != nil {
				return fmt.Errorf("close staged output: %w", err)
			}
			return objstore.Publish(ctx, resolver, loc, f.Name())
		}}, nil
	}

	dir := filepath.Dir(loc.Path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(loc.Path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return &output{Writer: f, file: f, commit: func(context.Context) error {
		// CreateTemp makes the file private.
		if err := f.Chmod(0o644); err != nil {
			slog.Warn("Failed to set output mode", slog.String("path", f.Name()), slog.Any("error", err))
		}
		if err := f.Close(); err != nil {
			removeQuietly(f.Name())
			return fmt.Errorf("close output: %w", err)
		}
		if err := os.Rename(f.Name(), loc.Path); err != nil {
			removeQuietly(f.Name())
			return fmt.Errorf("replace output: %w", err)
		}
		return nil
	}}, nil
}

// abort discards a file output that was not committed.
func (o *output) abort() {
	if o.file == nil {
		return
	}
	_ = o.file.Close()
	removeQuietly(o.file.Name())
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove file", slog.String("path", path), slog.Any("error", err))
	}
}

func stageDir(opts linesort.Options) string {
	if opts.TempDir != "" {
		return opts.TempDir
	}
	return os.TempDir()
}

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

// Package tmpstore hands out the temporary files a sort spills to. Every file
// lives in a per-session directory, is tracked until removed, and counts
// against a budget of simultaneously open descriptors.
package tmpstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/lakesort/internal/idgen"
)

// ErrTooManyOpen is returned when opening another file would exceed the
// descriptor budget.
var ErrTooManyOpen = errors.New("temporary file descriptor budget exhausted")

// Options configure a Store.
type Options struct {
	// Dir is the parent of the session directory. Empty means os.TempDir().
	Dir string
	// MaxOpenFiles caps simultaneously open files. Zero derives a budget
	// from RLIMIT_NOFILE.
	MaxOpenFiles int
	// MinFreeBytes logs a warning at startup when the filesystem holding
	// Dir has less free space.
	MinFreeBytes uint64
}

// Store creates, opens and removes temporary files for one sort session.
type Store struct {
	dir    string
	names  *idgen.ULIDGenerator
	budget int

	mu      sync.Mutex
	open    int
	live    mapset.Set[string]
	created int64
}

// New creates the session directory under opts.Dir.
func New(opts Options) (*Store, error) {
	parent := opts.Dir
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create temp parent %s: %w", parent, err)
	}
	dir, err := os.MkdirTemp(parent, sessionPrefix+uuid.NewString()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("create temp session dir: %w", err)
	}

	budget := opts.MaxOpenFiles
	if budget <= 0 {
		budget = DescriptorBudget()
	}

	s := &Store{
		dir:    dir,
		names:  idgen.NewULIDGenerator(),
		budget: budget,
		live:   mapset.NewThreadUnsafeSet[string](),
	}

	if usage, err := DiskUsage(parent); err != nil {
		slog.Warn("Unable to check free space for temp dir", slog.String("path", parent), slog.Any("error", err))
	} else if opts.MinFreeBytes > 0 && usage.FreeBytes < opts.MinFreeBytes {
		slog.Warn("Low free space for temp dir",
			slog.String("path", parent),
			slog.Uint64("freeBytes", usage.FreeBytes),
			slog.Uint64("wantBytes", opts.MinFreeBytes))
	}

	slog.Debug("Created temp session", slog.String("dir", dir), slog.Int("fdBudget", budget))
	return s, nil
}

// Dir returns the session directory.
func (s *Store) Dir() string { return s.dir }

// Budget returns the maximum number of files that may be open at once.
func (s *Store) Budget() int { return s.budget }

// OpenCount returns the number of files currently open through the store.
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Live returns the paths created and not yet removed.
func (s *Store) Live() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.ToSlice()
}

// Created returns how many files the store has created.
func (s *Store) Created() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *Store) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open >= s.budget {
		return fmt.Errorf("%d files open: %w", s.open, ErrTooManyOpen)
	}
	s.open++
	return nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.open--
	s.mu.Unlock()
}

// File is an open temporary file. Close returns its descriptor to the
// store's budget; the file itself stays until Remove.
type File struct {
	*os.File
	store  *Store
	closed bool
}

// Close closes the file once.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.store.release()
	return f.File.Close()
}

// Create makes a new empty file named after kind.
func (s *Store) Create(kind string) (*File, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	name := filepath.Join(s.dir, kind+"-"+s.names.Make(time.Now())+".run")
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	s.mu.Lock()
	s.live.Add(name)
	s.created++
	s.mu.Unlock()
	return &File{File: f, store: s}, nil
}

// Open reopens a file the store created.
func (s *Store) Open(path string) (*File, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	return &File{File: f, store: s}, nil
}

// Remove deletes a file the store created.
func (s *Store) Remove(path string) error {
	s.mu.Lock()
	s.live.Remove(path)
	s.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file: %w", err)
	}
	return nil
}

// Cleanup removes every live file and the session directory.
func (s *Store) Cleanup() error {
	var errs *multierror.Error
	for _, path := range s.Live() {
		if err := s.Remove(path); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("remove temp session dir: %w", err))
	}
	return errs.ErrorOrNil()
}

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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakesort/config"
	"github.com/cardinalhq/lakesort/internal/linesort"
	"github.com/cardinalhq/lakesort/internal/objstore"
)

func newCheckCmd() *cobra.Command {
	var flags sortFlags
	c := &cobra.Command{
		Use:   "check [flags] [input]",
		Short: "Report whether an input is already sorted",
		Long: `Read one input and report the first record out of order. Exits 1 on
disorder. With -u, adjacent records with equal keys also count as disorder.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := resolveConfig(c, &flags)
			if err != nil {
				return err
			}
			return runWithTelemetry("check", func(ctx context.Context) error {
				return checkInput(ctx, c, cfg, args)
			})
		},
	}
	flags.register(c)
	return c
}

func checkInput(ctx context.Context, c *cobra.Command, cfg *config.Config, args []string) error {
	engine, err := linesort.New(cfg.Sort)
	if err != nil {
		return err
	}
	locs, err := parseLocations(args)
	if err != nil {
		return err
	}

	dir := stageDir(cfg.Sort)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	staged, err := objstore.Stage(ctx, objstore.NewResolver(cfg.Storage), dir, locs, 1)
	if err != nil {
		return err
	}
	defer objstore.Release(staged)

	sources, closeSources := openSources(staged, c.InOrStdin())
	defer func() {
		if err := closeSources(); err != nil {
			slog.Warn("Failed to close input", slog.Any("error", err))
		}
	}()

	res, err := engine.CheckOrder(ctx, sources[0])
	if err != nil {
		return err
	}
	if res.Sorted {
		return nil
	}
	rec := bytes.TrimSuffix(res.Record, []byte{cfg.Sort.RecordDelim})
	fmt.Fprintf(c.ErrOrStderr(), "lakesort: %s:%d: disorder: %s\n", sources[0].Name, res.Line, rec)
	return errDisorder
}

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

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/lakesort/config"
	"github.com/cardinalhq/lakesort/internal/linesort"
	"github.com/cardinalhq/lakesort/internal/objstore"
	"github.com/cardinalhq/lakesort/internal/tmpstore"
)

func newSortCmd() *cobra.Command {
	var flags sortFlags
	c := &cobra.Command{
		Use:   "sort [flags] [inputs...]",
		Short: "Sort or merge inputs into one output",
		Long: `Sort the records of all inputs, in order, into one output. With no inputs,
or with "-", read stdin. Gzip-compressed inputs are decompressed.`,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := resolveConfig(c, &flags)
			if err != nil {
				return err
			}
			if flags.check {
				if len(args) > 1 {
					return fmt.Errorf("check takes at most one input, got %d", len(args))
				}
				return runWithTelemetry("check", func(ctx context.Context) error {
					return checkInput(ctx, c, cfg, args)
				})
			}
			return runWithTelemetry("sort", func(ctx context.Context) error {
				return sortInputs(ctx, c, cfg, flags, args)
			})
		},
	}
	flags.register(c)
	return c
}

func resolveConfig(c *cobra.Command, flags *sortFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := flags.apply(c, &cfg.Sort); err != nil {
		return nil, fmt.Errorf("%w: %w", linesort.ErrConfig, err)
	}
	return cfg, nil
}

func sortInputs(ctx context.Context, c *cobra.Command, cfg *config.Config, flags sortFlags, args []string) error {
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
	if n := tmpstore.SweepStale(dir, cfg.StaleTempAge); n > 0 {
		slog.Info("Removed abandoned temp sessions", slog.Int("count", n))
	}
	resolver := objstore.NewResolver(cfg.Storage)
	staged, err := objstore.Stage(ctx, resolver, dir, locs, cfg.StageConcurrency)
	if err != nil {
		return err
	}
	defer objstore.Release(staged)

	sources, closeSources := openSources(staged, c.InOrStdin())
	defer func() {
		if err := closeSources(); err != nil {
			slog.Warn("Failed to close inputs", slog.Any("error", err))
		}
	}()

	out, err := openOutput(flags.output, c.OutOrStdout(), resolver, dir)
	if err != nil {
		return err
	}

	var sum linesort.Summary
	if flags.merge {
		sum, err = engine.Merge(ctx, sources, out)
	} else {
		sum, err = engine.Sort(ctx, sources, out)
	}
	if err != nil {
		out.abort()
		return err
	}
	if err := out.commit(ctx); err != nil {
		return err
	}

	slog.Debug("Sort finished",
		slog.String("operation", sum.Operation),
		slog.Int64("records", sum.RecordsOut),
		slog.Int64("runsWritten", sum.RunsWritten),
		slog.Duration("elapsed", sum.Elapsed))
	if cfg.Sort.CollectStats {
		return printSummary(c.ErrOrStderr(), sum)
	}
	return nil
}

func printSummary(w io.Writer, sum linesort.Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return enc.Close()
}

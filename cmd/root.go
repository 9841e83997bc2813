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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const serviceName = "lakesort"

// Exit statuses follow sort(1): 1 reports disorder under check, 2 any
// other failure.
const (
	exitDisorder = 1
	exitTrouble  = 2
)

// errDisorder is returned by check mode when the input is out of order.
var errDisorder = errors.New("input is not sorted")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lakesort",
		Short: "Sort, merge and check line records of any size",
		Long: `Sort line records that may not fit in memory. Records are ordered by key
fields or whole lines, spilling to temporary files and merging as needed.
Inputs and outputs may be local files, stdin, or s3:// and azblob:// URLs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSortCmd(), newCheckCmd(), newConfigCmd())
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, errDisorder) {
		return exitDisorder
	}
	fmt.Fprintf(os.Stderr, "lakesort: %v\n", err)
	return exitTrouble
}

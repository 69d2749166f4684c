// FediFetcher
// Copyright (C) FediFetcher Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/superseriousbusiness/fedifetcher/internal/config"
	"github.com/superseriousbusiness/fedifetcher/internal/fetcher"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// Version is the software version of this build,
// set at build time using ldflags.
var Version string

func main() {
	rootCmd := &cobra.Command{
		Use:           "fedifetcher",
		Short:         "FediFetcher - a tool to fetch missing posts and thread context from the fediverse",
		Version:       version(),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			log.SetLevel(log.ParseLevel(cfg.LogLevel))
			return fetcher.New(cfg).Run(cmd.Context())
		},
	}
	config.AddFlags(rootCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func version() string {
	if Version == "" {
		return "devel"
	}
	return Version
}

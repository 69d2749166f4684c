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

package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
)

// AddFlags registers every configuration key as a flag
// on the given command.
func AddFlags(cmd *cobra.Command) {
	d := Defaults()
	flags := cmd.Flags()

	flags.String("config", "", "path to a JSON/YAML file containing configuration options")
	flags.String("server", "", "the name of your server (e.g. mstdn.example)")
	flags.StringArray("access-token", nil, "access token with read:search, read:statuses and admin:read:accounts scopes; repeatable for multiple users")
	flags.Int("reply-interval-in-hours", d.ReplyIntervalInHours, "fetch remote replies to posts that have received replies from local users in this period")
	flags.Int("home-timeline-length", d.HomeTimelineLength, "look for replies to posts in the token owner's home timeline, up to this many posts")
	flags.Int("max-followings", d.MaxFollowings, "backfill posts of at most this many newly followed accounts")
	flags.Int("max-followers", d.MaxFollowers, "backfill posts of at most this many new followers")
	flags.Int("max-follow-requests", d.MaxFollowRequests, "backfill posts of at most this many pending follow requests")
	flags.Int("max-bookmarks", d.MaxBookmarks, "fetch remote replies to at most this many bookmarks")
	flags.Int("max-favourites", d.MaxFavourites, "fetch remote replies to at most this many favourites")
	flags.Int("from-notifications", d.FromNotifications, "backfill accounts appearing in notifications of the last given hours")
	flags.Int("remember-users-for-hours", d.RememberUsersForHours, "how long to remember users you aren't following before trying to backfill them again")
	flags.Int("http-timeout", d.HTTPTimeout, "timeout in seconds for HTTP requests to your own or other instances")
	flags.Int("backfill-with-context", d.BackfillWithContext, "fetch remote replies when backfilling profiles; 0 disables")
	flags.Int("backfill-mentioned-users", d.BackfillMentionedUsers, "backfill mentioned users when fetching replies to timeline posts; 0 disables")
	flags.Int("lock-hours", d.LockHours, "the lock timeout in hours")
	flags.String("lock-file", "", "location of the lock file")
	flags.String("state-dir", d.StateDir, "directory to store persistent files and possibly lock file")
	flags.String("on-start", "", "url to ping when processing is starting")
	flags.String("on-done", "", "url to ping when processing has completed")
	flags.String("on-fail", "", "url to ping when processing has failed")
	flags.Int("log-level", d.LogLevel, "10=DEBUG, 20=INFO, 30=WARNING, 40=ERROR, 50=CRITICAL")
	flags.StringToString("external-tokens", nil, "tokens for external servers, keyed by server")
	flags.String("external-feeds", "", "comma-separated list of external servers to fetch trending posts from")
	flags.String("db-host", "", "PostgreSQL host of the local server's database; empty disables the database sidecar")
	flags.Int("db-port", d.DBPort, "PostgreSQL port")
	flags.String("db-user", d.DBUser, "PostgreSQL user")
	flags.String("db-name", d.DBName, "PostgreSQL database name")
	flags.String("pgpassword", "", "PostgreSQL password")
}

// Load binds flags and environment into viper, reads the
// optional config file, and unmarshals the whole lot.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fferror.Wrap(err)
	}

	v.SetEnvPrefix("fedifetcher")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fferror.Newf("config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fferror.Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

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
	"path/filepath"
	"regexp"
	"strings"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
)

// Config holds all configuration for one run. Keys map onto
// kebab-case flags / config-file entries via mapstructure.
type Config struct {
	// Server is the hostname of the local (home) server.
	Server string `mapstructure:"server"`

	// AccessToken holds one or more bearer tokens for the home
	// server. The first is treated as admin for admin endpoints.
	AccessToken []string `mapstructure:"access-token"`

	ReplyIntervalInHours   int `mapstructure:"reply-interval-in-hours"`
	HomeTimelineLength     int `mapstructure:"home-timeline-length"`
	MaxFollowings          int `mapstructure:"max-followings"`
	MaxFollowers           int `mapstructure:"max-followers"`
	MaxFollowRequests      int `mapstructure:"max-follow-requests"`
	MaxBookmarks           int `mapstructure:"max-bookmarks"`
	MaxFavourites          int `mapstructure:"max-favourites"`
	FromNotifications      int `mapstructure:"from-notifications"`
	RememberUsersForHours  int `mapstructure:"remember-users-for-hours"`
	HTTPTimeout            int `mapstructure:"http-timeout"`
	BackfillWithContext    int `mapstructure:"backfill-with-context"`
	BackfillMentionedUsers int `mapstructure:"backfill-mentioned-users"`
	LockHours              int `mapstructure:"lock-hours"`
	LockFile               string `mapstructure:"lock-file"`
	StateDir               string `mapstructure:"state-dir"`
	OnStart                string `mapstructure:"on-start"`
	OnDone                 string `mapstructure:"on-done"`
	OnFail                 string `mapstructure:"on-fail"`
	LogLevel               int    `mapstructure:"log-level"`

	// ExternalTokens maps peer server hostname -> bearer token
	// for authenticated access to that peer.
	ExternalTokens map[string]string `mapstructure:"external-tokens"`

	// ExternalFeeds is a comma-separated list of peer servers
	// to pull trending posts from.
	ExternalFeeds string `mapstructure:"external-feeds"`

	// PostgreSQL connection for the sidecar; leaving DBHost
	// empty disables the sidecar entirely.
	DBHost     string `mapstructure:"db-host"`
	DBPort     int    `mapstructure:"db-port"`
	DBUser     string `mapstructure:"db-user"`
	DBName     string `mapstructure:"db-name"`
	PGPassword string `mapstructure:"pgpassword"`
}

// Defaults returns a Config holding default values,
// matching the documented flag defaults.
func Defaults() Config {
	return Config{
		RememberUsersForHours:  24 * 7,
		HTTPTimeout:            5,
		BackfillWithContext:    1,
		BackfillMentionedUsers: 1,
		LockHours:              24,
		StateDir:               "artifacts",
		LogLevel:               20,
		DBPort:                 5432,
		DBName:                 "mastodon_production",
	}
}

// serverRe strips an optional scheme and trailing
// slash off a configured server name.
var serverRe = regexp.MustCompile(`^(?:https://)?([^/]*)/?$`)

// Validate normalizes and sanity-checks the configuration,
// returning an error for anything fatal at startup.
func (c *Config) Validate() error {
	if c.Server == "" || len(c.AccessToken) == 0 {
		return fferror.New("you must supply at least a server name and an access token")
	}

	// Accept the server given as a URL instead of a hostname.
	if m := serverRe.FindStringSubmatch(c.Server); m != nil {
		c.Server = m[1]
	}
	c.Server = strings.ToLower(c.Server)

	if c.LockFile == "" {
		c.LockFile = filepath.Join(c.StateDir, "lock.lock")
	}
	return nil
}

// AdminToken returns the token used for admin endpoints.
func (c *Config) AdminToken() string {
	return c.AccessToken[0]
}

// ExternalFeedServers returns the trending-feed peer list.
func (c *Config) ExternalFeedServers() []string {
	if c.ExternalFeeds == "" {
		return nil
	}
	var servers []string
	for _, s := range strings.Split(c.ExternalFeeds, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

// DBEnabled returns whether the PostgreSQL sidecar
// should be connected at all.
func (c *Config) DBEnabled() bool {
	return c.DBHost != ""
}

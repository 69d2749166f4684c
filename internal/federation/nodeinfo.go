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

package federation

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/httpclient"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// nodeInfo is the subset of a NodeInfo 2.0
// document this tool cares about.
type nodeInfo struct {
	Software struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"software"`
}

// wellKnownNodeInfo is the /.well-known/nodeinfo discovery doc.
type wellKnownNodeInfo struct {
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// hostMetaXRD is the XRD body of /.well-known/host-meta;
// only the lrdd link template is interesting, as its host
// names the canonical API domain.
type hostMetaXRD struct {
	XMLName xml.Name `xml:"XRD"`
	Links   []struct {
		Rel      string `xml:"rel,attr"`
		Template string `xml:"template,attr"`
	} `xml:"Link"`
}

// probeNodeInfo determines the software family of the given
// peer. It first tries /nodeinfo/2.0 directly, then the
// /.well-known/nodeinfo discovery document, then finally
// /.well-known/host-meta to discover the canonical domain.
// The possibly-updated canonical domain is returned alongside.
func probeNodeInfo(ctx context.Context, c *httpclient.Client, domain string) (ffmodel.BackendKind, string, error) {
	var ni nodeInfo
	if _, err := c.Get(ctx, "/nodeinfo/2.0", nil, &ni); err == nil && ni.Software.Name != "" {
		return ffmodel.ParseBackendKind(ni.Software.Name), domain, nil
	}

	// Discovery document next; its links may
	// point at a different canonical domain.
	var wk wellKnownNodeInfo
	if _, err := c.Get(ctx, "/.well-known/nodeinfo", nil, &wk); err == nil && len(wk.Links) > 0 {
		for _, link := range wk.Links {
			if link.Href == "" {
				continue
			}
			ni = nodeInfo{}
			if _, err := c.GetURL(ctx, link.Href, &ni); err == nil && ni.Software.Name != "" {
				return ffmodel.ParseBackendKind(ni.Software.Name), hostOf(link.Href, domain), nil
			}
		}
	}

	// Last resort: host-meta names the canonical domain;
	// re-probe nodeinfo over there.
	if host := probeHostMeta(ctx, c); host != "" && host != domain {
		log.Debugf("host-meta for %s points at %s", domain, host)
		ni = nodeInfo{}
		if _, err := c.GetURL(ctx, "https://"+host+"/nodeinfo/2.0", &ni); err == nil && ni.Software.Name != "" {
			return ffmodel.ParseBackendKind(ni.Software.Name), host, nil
		}
	}

	return ffmodel.BackendUnknown, domain, fferror.Newf("could not read nodeinfo for %s", domain)
}

func probeHostMeta(ctx context.Context, c *httpclient.Client) string {
	raw, err := c.GetRaw(ctx, "/.well-known/host-meta")
	if err != nil {
		return ""
	}
	var xrd hostMetaXRD
	if err := xml.Unmarshal(raw, &xrd); err != nil {
		return ""
	}
	for _, link := range xrd.Links {
		if link.Rel == "lrdd" && link.Template != "" {
			return hostOf(link.Template, "")
		}
	}
	return ""
}

func hostOf(rawurl, fallback string) string {
	u, err := url.Parse(rawurl)
	if err != nil || u.Host == "" {
		return fallback
	}
	return strings.ToLower(u.Host)
}

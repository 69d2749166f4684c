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

// Package lemmy adapts Lemmy's v3 API. Lemmy has no federated
// search or status-by-arbitrary-URL lookup, so the adapter only
// covers what the crawler needs from an origin server: user and
// community posts, and the comment tree of a post.
package lemmy

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/httpclient"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// Lemmy is the adapter for one Lemmy server.
type Lemmy struct {
	client *httpclient.Client
}

// New returns a Lemmy adapter speaking to the given client.
func New(client *httpclient.Client) *Lemmy {
	return &Lemmy{client: client}
}

// Wire shapes, reduced to the fields we read.

type post struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	ApID      string    `json:"ap_id"`
	Published time.Time `json:"published"`
}

type comment struct {
	ID        int       `json:"id"`
	Content   string    `json:"content"`
	ApID      string    `json:"ap_id"`
	PostID    int       `json:"post_id"`
	Published time.Time `json:"published"`
}

type counts struct {
	Comments int `json:"comments"`
	Score    int `json:"score"`
}

type postView struct {
	Post   post   `json:"post"`
	Counts counts `json:"counts"`
}

type commentView struct {
	Comment comment `json:"comment"`
	Counts  counts  `json:"counts"`
}

// ResolveStatus is unsupported: importing into a Lemmy server
// is not something this tool does, and Lemmy cannot resolve
// foreign URLs for us.
func (l *Lemmy) ResolveStatus(ctx context.Context, statusURL string) (*ffmodel.Status, error) {
	return nil, fferror.Wrapf("%s: resolve: %w", l.client.Host(), fferror.ErrUnsupported)
}

// GetStatus fetches a post by id.
func (l *Lemmy) GetStatus(ctx context.Context, id string) (*ffmodel.Status, error) {
	query := url.Values{}
	query.Set("id", id)

	var result struct {
		PostView postView `json:"post_view"`
	}
	if _, err := l.client.Get(ctx, "/api/v3/post", query, &result); err != nil {
		return nil, err
	}
	if result.PostView.Post.ApID == "" {
		return nil, fferror.Wrapf("post %s: %w", id, fferror.ErrNotFound)
	}
	return postToStatus(&result.PostView), nil
}

// GetContextStatuses returns the comment tree around the given
// object. For a /comment/ URL the parent post is resolved
// first; for a /post/ URL the id is the post itself. The post's
// own ap_id is included whenever it has comments.
func (l *Lemmy) GetContextStatuses(ctx context.Context, id, statusURL string) ([]*ffmodel.Status, error) {
	postID := id

	if strings.Contains(statusURL, "/comment/") {
		query := url.Values{}
		query.Set("id", id)

		var result struct {
			CommentView commentView `json:"comment_view"`
		}
		if _, err := l.client.Get(ctx, "/api/v3/comment", query, &result); err != nil {
			return nil, err
		}
		if result.CommentView.Comment.PostID == 0 {
			return nil, fferror.Wrapf("comment %s: %w", id, fferror.ErrNotFound)
		}
		postID = strconv.Itoa(result.CommentView.Comment.PostID)
	}

	var statuses []*ffmodel.Status

	// The post itself belongs to the thread when
	// there is any discussion attached at all.
	query := url.Values{}
	query.Set("id", postID)
	var postResult struct {
		PostView postView `json:"post_view"`
	}
	if _, err := l.client.Get(ctx, "/api/v3/post", query, &postResult); err == nil {
		if postResult.PostView.Counts.Comments == 0 {
			return nil, nil
		}
		statuses = append(statuses, postToStatus(&postResult.PostView))
	}

	query = url.Values{}
	query.Set("post_id", postID)
	query.Set("sort", "New")
	query.Set("limit", "50")
	var comments struct {
		Comments []commentView `json:"comments"`
	}
	if _, err := l.client.Get(ctx, "/api/v3/comment/list", query, &comments); err != nil {
		return statuses, err
	}
	for i := range comments.Comments {
		statuses = append(statuses, commentToStatus(&comments.Comments[i]))
	}
	log.Infof("got %d comments for post %s on %s", len(comments.Comments), postID, l.client.Host())
	return statuses, nil
}

// GetUserID is the identity function: the Lemmy user listing
// endpoint takes usernames directly.
func (l *Lemmy) GetUserID(ctx context.Context, username string) (string, error) {
	return username, nil
}

// GetUserStatuses returns a user's recent posts and comments,
// merged, each addressed by its ap_id.
func (l *Lemmy) GetUserStatuses(ctx context.Context, userID string, limit int) ([]*ffmodel.Status, error) {
	query := url.Values{}
	query.Set("username", userID)
	query.Set("sort", "New")
	query.Set("limit", "50")

	var result struct {
		Posts    []postView    `json:"posts"`
		Comments []commentView `json:"comments"`
	}
	if _, err := l.client.Get(ctx, "/api/v3/user", query, &result); err != nil {
		return nil, err
	}

	statuses := make([]*ffmodel.Status, 0, len(result.Posts)+len(result.Comments))
	for i := range result.Comments {
		statuses = append(statuses, commentToStatus(&result.Comments[i]))
	}
	for i := range result.Posts {
		statuses = append(statuses, postToStatus(&result.Posts[i]))
	}
	if len(statuses) > limit {
		statuses = statuses[:limit]
	}
	return statuses, nil
}

// GetCommunityPosts returns a community's recent posts.
func (l *Lemmy) GetCommunityPosts(ctx context.Context, name string) ([]*ffmodel.Status, error) {
	query := url.Values{}
	query.Set("community_name", name)
	query.Set("sort", "New")
	query.Set("limit", "50")

	var result struct {
		Posts []postView `json:"posts"`
	}
	if _, err := l.client.Get(ctx, "/api/v3/post/list", query, &result); err != nil {
		return nil, err
	}

	statuses := make([]*ffmodel.Status, 0, len(result.Posts))
	for i := range result.Posts {
		statuses = append(statuses, postToStatus(&result.Posts[i]))
	}
	return statuses, nil
}

// postToStatus maps a Lemmy post onto a Status. The ap_id is
// both uri and url: it is what the rest of the pipeline parses
// and imports.
func postToStatus(pv *postView) *ffmodel.Status {
	return &ffmodel.Status{
		ID:              strconv.Itoa(pv.Post.ID),
		URI:             pv.Post.ApID,
		URL:             pv.Post.ApID,
		CreatedAt:       pv.Post.Published,
		Content:         pv.Post.Body,
		SpoilerText:     pv.Post.Name,
		RepliesCount:    pv.Counts.Comments,
		FavouritesCount: pv.Counts.Score,
	}
}

func commentToStatus(cv *commentView) *ffmodel.Status {
	return &ffmodel.Status{
		ID:              strconv.Itoa(cv.Comment.ID),
		URI:             cv.Comment.ApID,
		URL:             cv.Comment.ApID,
		CreatedAt:       cv.Comment.Published,
		Content:         cv.Comment.Content,
		InReplyToID:     strconv.Itoa(cv.Comment.PostID),
		FavouritesCount: cv.Counts.Score,
	}
}

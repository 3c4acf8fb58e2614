package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type ContentState int

const (
	ContentNotFetched ContentState = iota
	ContentFetched
	ContentError
	ContentUnavailable
)

func (s ContentState) String() string {
	switch s {
	case ContentNotFetched:
		return "not_fetched"
	case ContentFetched:
		return "fetched"
	case ContentError:
		return "error"
	case ContentUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FetchError is the structured failure recorded against a story.
type FetchError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

type Story struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	URL      string    `json:"url,omitempty"`
	By       string    `json:"by"`
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	Score    int       `json:"score"`
	Comments int       `json:"descendants"`
	Text     string    `json:"text,omitempty"`

	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`

	Relevance  *int        `json:"relevance_score,omitempty"`
	ScoreError *FetchError `json:"score_error,omitempty"`

	Content            string       `json:"content,omitempty"`
	Summary            string       `json:"content_summary,omitempty"`
	ContentState       ContentState `json:"content_state"`
	LastError          *FetchError  `json:"last_error,omitempty"`
	LastFetchAttemptAt *time.Time   `json:"last_fetch_attempt_at,omitempty"`

	Synced         bool       `json:"readwise_synced"`
	SyncedAt       *time.Time `json:"readwise_sync_time,omitempty"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
}

// Domain returns the story's host without a leading "www.".
func (s Story) Domain() string {
	return Domain(s.URL)
}

// DeliveryURL is the URL handed to read-later services. Text posts fall back
// to their discussion page.
func (s Story) DeliveryURL() string {
	if s.URL != "" {
		return s.URL
	}
	return DiscussionURL(s.ID)
}

func (s Story) IsScored() bool {
	return s.Relevance != nil
}

func DiscussionURL(id int64) string {
	return fmt.Sprintf("https://news.ycombinator.com/item?id=%d", id)
}

func Domain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// RankedStory pairs a story with its combined ranking score.
type RankedStory struct {
	Story
	Combined float64 `json:"combined_score"`
}

// RunMetadata carries the state one run hands to the next.
type RunMetadata struct {
	LastPollTime         *time.Time
	LastOldestID         int64
	LastReadwiseSyncTime *time.Time
}

func (m RunMetadata) HasWatermark() bool {
	return m.LastOldestID > 0
}

type DomainVerdict struct {
	Domain    string    `json:"domain"`
	Score     int       `json:"score"`
	Samples   int       `json:"samples"`
	Pinned    bool      `json:"pinned"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SyncResult struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type RelevanceStats struct {
	Total    int     `db:"total"`
	Scored   int     `db:"scored"`
	Unscored int     `db:"unscored"`
	Average  float64 `db:"average"`
	Min      int     `db:"min"`
	Max      int     `db:"max"`
}

type ContentStats struct {
	NotFetched  int `db:"not_fetched"`
	Fetched     int `db:"fetched"`
	Errors      int `db:"errors"`
	Unavailable int `db:"unavailable"`
}

type SyncStats struct {
	Synced       int        `db:"synced"`
	Eligible     int        `db:"eligible"`
	LastSyncTime *time.Time `db:"-"`
}

// Package report renders stories, stats and run summaries for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/thomaskoefod/hnpoll/internal/feed"
	"github.com/thomaskoefod/hnpoll/internal/pipeline"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

const defaultWrap = 100

var (
	rankStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(4)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	relevanceHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	relevanceMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	relevanceLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	summaryStyle = lipgloss.NewStyle().
			PaddingLeft(4).
			Foreground(lipgloss.Color("252"))
)

func relevanceLabel(r *int) string {
	if r == nil {
		return metaStyle.Render("rel -")
	}
	label := fmt.Sprintf("rel %d", *r)
	switch {
	case *r >= 75:
		return relevanceHigh.Render(label)
	case *r >= 40:
		return relevanceMid.Render(label)
	default:
		return relevanceLow.Render(label)
	}
}

// Stories prints a ranked list, one story per block.
func Stories(w io.Writer, ranked []models.RankedStory, withSummary bool) {
	if len(ranked) == 0 {
		fmt.Fprintln(w, metaStyle.Render("No stories match."))
		return
	}
	for i, s := range ranked {
		fmt.Fprintf(w, "%s%s\n", rankStyle.Render(fmt.Sprintf("%d.", i+1)), titleStyle.Render(s.Title))

		domain := s.Domain()
		if domain == "" {
			domain = "news.ycombinator.com"
		}
		meta := strings.Join([]string{
			domain,
			fmt.Sprintf("%d points", s.Score),
			fmt.Sprintf("%d comments", s.Comments),
			relevanceLabel(s.Relevance),
			fmt.Sprintf("combined %.1f", s.Combined),
			age(s.Time),
		}, " | ")
		fmt.Fprintf(w, "    %s\n", metaStyle.Render(meta))
		fmt.Fprintf(w, "    %s\n", metaStyle.Render(models.DiscussionURL(s.ID)))

		if withSummary && s.Summary != "" {
			fmt.Fprintln(w, summaryStyle.Render(s.Summary))
		}
		fmt.Fprintln(w)
	}
}

func age(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// RenderContent turns stored markdown into styled terminal text. style is a
// glamour standard style name; "auto" or "" picks one from the terminal.
func RenderContent(markdown, style string, width int) (string, error) {
	if width <= 0 {
		width = defaultWrap
	}
	styleOpt := glamour.WithAutoStyle()
	if style != "" && style != "auto" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}

// StoryDetail prints every stored field of one story followed by its content.
func StoryDetail(w io.Writer, s models.Story, style string) error {
	fmt.Fprintln(w, titleStyle.Render(s.Title))

	t := newTable(w)
	t.AppendRows([]table.Row{
		{"ID", s.ID},
		{"URL", s.DeliveryURL()},
		{"Discussion", models.DiscussionURL(s.ID)},
		{"Author", s.By},
		{"Submitted", s.Time.Format(time.RFC3339)},
		{"HN score", s.Score},
		{"Comments", s.Comments},
		{"Relevance", optionalInt(s.Relevance)},
		{"Content", s.ContentState.String()},
		{"Synced", s.Synced},
	})
	if s.ScoreError != nil {
		t.AppendRow(table.Row{"Score error", s.ScoreError.Type + ": " + s.ScoreError.Message})
	}
	if s.LastError != nil {
		t.AppendRow(table.Row{"Fetch error", formatFetchError(s.LastError)})
	}
	t.Render()

	body := s.Content
	if body == "" {
		body = s.Summary
	}
	if body == "" {
		return nil
	}
	rendered, err := RenderContent(body, style, 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, rendered)
	return nil
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func formatFetchError(fe *models.FetchError) string {
	if fe.HTTPStatus > 0 {
		return fmt.Sprintf("%s (%d): %s", fe.Type, fe.HTTPStatus, fe.Message)
	}
	return fe.Type + ": " + fe.Message
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// Stats is everything the stats command prints.
type Stats struct {
	Relevance models.RelevanceStats
	Content   models.ContentStats
	Sync      models.SyncStats
	Meta      models.RunMetadata
}

func PrintStats(w io.Writer, s Stats) {
	rel := newTable(w)
	rel.SetTitle("Relevance")
	rel.AppendHeader(table.Row{"Total", "Scored", "Unscored", "Average", "Min", "Max"})
	rel.AppendRow(table.Row{
		s.Relevance.Total, s.Relevance.Scored, s.Relevance.Unscored,
		fmt.Sprintf("%.1f", s.Relevance.Average), s.Relevance.Min, s.Relevance.Max,
	})
	rel.Render()

	content := newTable(w)
	content.SetTitle("Content")
	content.AppendHeader(table.Row{"Not fetched", "Fetched", "Error", "Unavailable"})
	content.AppendRow(table.Row{s.Content.NotFetched, s.Content.Fetched, s.Content.Errors, s.Content.Unavailable})
	content.Render()

	sync := newTable(w)
	sync.SetTitle("Readwise")
	sync.AppendHeader(table.Row{"Synced", "Eligible", "Last sync"})
	sync.AppendRow(table.Row{s.Sync.Synced, s.Sync.Eligible, formatTime(s.Sync.LastSyncTime)})
	sync.Render()

	meta := newTable(w)
	meta.SetTitle("Run metadata")
	meta.AppendRows([]table.Row{
		{"last_poll_time", formatTime(s.Meta.LastPollTime)},
		{"last_oldest_id", s.Meta.LastOldestID},
		{"last_readwise_sync_time", formatTime(s.Meta.LastReadwiseSyncTime)},
	})
	meta.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func DomainCache(w io.Writer, verdicts []models.DomainVerdict) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Domain", "Score", "Samples", "Pinned", "Updated"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	for _, v := range verdicts {
		pinned := ""
		if v.Pinned {
			pinned = "yes"
		}
		t.AppendRow(table.Row{v.Domain, v.Score, v.Samples, pinned, v.UpdatedAt.Local().Format("2006-01-02")})
	}
	t.AppendFooter(table.Row{"", "", len(verdicts), "", ""})
	t.Render()
}

// Run prints a one-table summary of a pipeline run.
func Run(w io.Writer, r pipeline.RunReport) {
	t := newTable(w)
	t.SetTitle("Run " + r.RunID)
	t.AppendHeader(table.Row{"Stage", "Result"})
	t.AppendRow(table.Row{"fetch", Fetch(r.Fetch)})
	if r.Score != nil {
		t.AppendRow(table.Row{"score", fmt.Sprintf("%d candidates, %d scored (%d cached), %d failed",
			r.Score.Candidates, r.Score.Scored, r.Score.FromCache, r.Score.Failed)})
	}
	if r.Extract != nil {
		t.AppendRow(table.Row{"extract", fmt.Sprintf("%d candidates, %d fetched, %d errors, %d unavailable",
			r.Extract.Candidates, r.Extract.Fetched, r.Extract.Errors, r.Extract.Unavailable)})
	}
	if r.Sync != nil {
		t.AppendRow(table.Row{"sync", Sync(*r.Sync)})
	}
	if r.Clean != nil {
		t.AppendRow(table.Row{"clean", fmt.Sprintf("%d checked, %d deleted, %d errors",
			r.Clean.Checked, r.Clean.Deleted, r.Clean.Errors)})
	}
	t.AppendFooter(table.Row{"duration", r.Duration.Round(time.Millisecond).String()})
	t.Render()
}

func Fetch(r feed.Report) string {
	s := fmt.Sprintf("%s: %d candidates, %d inserted, %d updated, %d filtered, %d failed",
		r.Feed, r.Candidates, r.Inserted, r.Updated, r.Filtered, r.Failed)
	if r.StoppedBy != "" {
		s += fmt.Sprintf(", stopped by %s at %d", r.StoppedBy, r.OldestID)
	}
	return s
}

func Sync(r models.SyncResult) string {
	return fmt.Sprintf("%d synced, %d skipped, %d failed", r.Synced, r.Skipped, r.Failed)
}

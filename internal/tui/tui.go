package tui

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thomaskoefod/hnpoll/internal/report"
	"github.com/thomaskoefod/hnpoll/pkg/models"
)

type View int

const (
	ViewStoryList View = iota
	ViewStoryDetail
	ViewHelp
)

// Actions are the operations the browser can trigger. Refresh and Save may
// be nil when the matching backend is not configured.
type Actions struct {
	Load    func(ctx context.Context) ([]models.RankedStory, error)
	Refresh func(ctx context.Context) (string, error)
	Save    func(ctx context.Context, s models.Story) error
	Open    func(url string) error
}

type Model struct {
	ctx     context.Context
	actions Actions
	style   string

	view      View
	stories   []models.RankedStory
	list      list.Model
	viewport  viewport.Model
	selected  *models.RankedStory
	width     int
	height    int
	err       error
	statusMsg string
}

type storiesLoadedMsg struct {
	stories []models.RankedStory
}

type errorMsg struct {
	err error
}

type statusMsg string

// savedMsg reports a successful Readwise save so the list can reflect it.
type savedMsg struct {
	id int64
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	storyTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			MarginBottom(1)
)

var ErrNotConfigured = errors.New("not configured")

// New builds the browser. glamourStyle is passed to the markdown renderer.
func New(ctx context.Context, actions Actions, glamourStyle string) Model {
	if actions.Open == nil {
		actions.Open = openBrowser
	}
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = "hnpoll - Hacker News, ranked for you"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	return Model{
		ctx:      ctx,
		actions:  actions,
		style:    glamourStyle,
		view:     ViewStoryList,
		list:     l,
		viewport: viewport.New(0, 0),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadStories(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case storiesLoadedMsg:
		m.stories = msg.stories
		items := make([]list.Item, len(m.stories))
		for i, s := range m.stories {
			items[i] = storyItem{s}
		}
		cmd := m.list.SetItems(items)
		m.statusMsg = fmt.Sprintf("Loaded %d stories", len(m.stories))
		m.err = nil
		return m, cmd

	case savedMsg:
		for i := range m.stories {
			if m.stories[i].ID == msg.id {
				m.stories[i].Synced = true
				m.list.SetItem(i, storyItem{m.stories[i]})
			}
		}
		if m.selected != nil && m.selected.ID == msg.id {
			m.selected.Synced = true
		}
		m.statusMsg = "Saved to Readwise"
		m.err = nil
		return m, nil

	case errorMsg:
		m.err = msg.err
		return m, nil

	case statusMsg:
		m.statusMsg = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	if m.view == ViewStoryDetail {
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.view {
	case ViewStoryList:
		return m.handleListKeys(msg)
	case ViewStoryDetail:
		return m.handleDetailKeys(msg)
	case ViewHelp:
		return m.handleHelpKeys(msg)
	}
	return m, nil
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// While the filter input is focused every key belongs to it.
	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "enter":
		if i, ok := m.list.SelectedItem().(storyItem); ok {
			s := i.story
			m.selected = &s
			m.view = ViewStoryDetail
			m.viewport.SetContent(m.renderStory(s))
			m.viewport.GotoTop()
			return m, nil
		}

	case "o":
		if i, ok := m.list.SelectedItem().(storyItem); ok {
			return m, m.open(i.story.DeliveryURL())
		}

	case "c":
		if i, ok := m.list.SelectedItem().(storyItem); ok {
			return m, m.open(models.DiscussionURL(i.story.ID))
		}

	case "r":
		m.statusMsg = "Refreshing stories..."
		return m, m.loadStories()

	case "f":
		if m.actions.Refresh == nil {
			m.err = fmt.Errorf("fetch: %w", ErrNotConfigured)
			return m, nil
		}
		m.statusMsg = "Fetching and scoring new stories..."
		return m, tea.Sequence(m.refresh(), m.loadStories())

	case "?":
		m.view = ViewHelp
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "esc", "backspace":
		m.view = ViewStoryList
		m.selected = nil
		return m, nil

	case "o":
		if m.selected != nil {
			return m, m.open(m.selected.DeliveryURL())
		}

	case "c":
		if m.selected != nil {
			return m, m.open(models.DiscussionURL(m.selected.ID))
		}

	case "s":
		if m.selected != nil {
			return m, m.save(m.selected.Story)
		}

	case "?":
		m.view = ViewHelp
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleHelpKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "?", "q":
		if m.selected != nil {
			m.view = ViewStoryDetail
		} else {
			m.view = ViewStoryList
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	switch m.view {
	case ViewStoryList:
		return m.renderList()
	case ViewStoryDetail:
		return m.renderDetail()
	case ViewHelp:
		return m.renderHelp()
	}
	return ""
}

func (m Model) statusLine() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}
	if m.statusMsg != "" {
		return statusStyle.Render(m.statusMsg)
	}
	return ""
}

func (m Model) renderList() string {
	var s strings.Builder

	s.WriteString(m.list.View())
	s.WriteString("\n")
	s.WriteString(m.statusLine())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("enter: read • o: open link • c: comments • r: reload • f: fetch new • ?: help • q: quit"))

	return s.String()
}

func (m Model) renderDetail() string {
	var s strings.Builder

	s.WriteString(m.viewport.View())
	s.WriteString("\n")
	s.WriteString(m.statusLine())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓: scroll • o: open link • c: comments • s: save to Readwise • esc: back • ?: help • q: quit"))

	return s.String()
}

func (m Model) renderHelp() string {
	help := `
hnpoll - Keyboard Shortcuts

Story List:
  ↑/↓, j/k     Navigate stories
  enter        Read story
  o            Open story link in browser
  c            Open HN discussion in browser
  r            Reload the list from the database
  f            Fetch and score new stories
  /            Filter stories
  q, ctrl+c    Quit

Story Detail:
  ↑/↓, pgup/pgdn  Scroll
  o            Open story link in browser
  c            Open HN discussion in browser
  s            Save story to Readwise Reader
  esc          Back to list
  q, ctrl+c    Quit

General:
  ?            Show/hide this help
`
	return help + "\n" + helpStyle.Render("Press ? or esc to close help")
}

func (m Model) renderStory(s models.RankedStory) string {
	var b strings.Builder

	b.WriteString(storyTitleStyle.Render(s.Title))
	b.WriteString("\n")
	relevance := "unscored"
	if s.Relevance != nil {
		relevance = fmt.Sprintf("relevance %d", *s.Relevance)
	}
	b.WriteString(helpStyle.Render(fmt.Sprintf("%s | %d points | %d comments | %s | combined %.1f",
		s.Time.Local().Format("Jan 2 15:04"), s.Score, s.Comments, relevance, s.Combined)))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(s.DeliveryURL()))
	b.WriteString("\n\n")

	body := s.Content
	if body == "" {
		body = s.Summary
	}
	if body == "" {
		b.WriteString(helpStyle.Render(fmt.Sprintf("No content (%s).", s.ContentState)))
		return b.String()
	}

	width := m.viewport.Width
	rendered, err := report.RenderContent(body, m.style, width)
	if err != nil {
		b.WriteString(body)
		return b.String()
	}
	b.WriteString(rendered)
	return b.String()
}

func (m Model) loadStories() tea.Cmd {
	return func() tea.Msg {
		stories, err := m.actions.Load(m.ctx)
		if err != nil {
			return errorMsg{err}
		}
		return storiesLoadedMsg{stories}
	}
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		status, err := m.actions.Refresh(m.ctx)
		if err != nil {
			return errorMsg{err}
		}
		return statusMsg(status)
	}
}

func (m Model) save(s models.Story) tea.Cmd {
	return func() tea.Msg {
		if m.actions.Save == nil {
			return errorMsg{fmt.Errorf("readwise: %w", ErrNotConfigured)}
		}
		if err := m.actions.Save(m.ctx, s); err != nil {
			return errorMsg{err}
		}
		return savedMsg{id: s.ID}
	}
}

func (m Model) open(url string) tea.Cmd {
	return func() tea.Msg {
		if err := m.actions.Open(url); err != nil {
			return errorMsg{err}
		}
		return statusMsg("Opened " + url)
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

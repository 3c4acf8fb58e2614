package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/thomaskoefod/hnpoll/pkg/models"
)

type storyItem struct {
	story models.RankedStory
}

func (i storyItem) Title() string {
	if i.story.Synced {
		return "✓ " + i.story.Title
	}
	return i.story.Title
}

func (i storyItem) Description() string {
	relevance := "-"
	if i.story.Relevance != nil {
		relevance = fmt.Sprint(*i.story.Relevance)
	}
	domain := i.story.Domain()
	if domain == "" {
		domain = "ask/show hn"
	}
	return fmt.Sprintf("%.1f | rel %s | %d pts | %d comments | %s",
		i.story.Combined, relevance, i.story.Score, i.story.Comments, domain)
}

func (i storyItem) FilterValue() string {
	return i.story.Title + " " + i.story.Domain()
}

var _ list.Item = storyItem{}

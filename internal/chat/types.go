// Package chat runs one chat turn end to end: classify the latest user
// message, acquire web content when allowed, assemble the conversation and
// stream the model's answer while harvesting the URLs it mentions.
package chat

import (
	"errors"
	"net/url"
	"strings"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	ErrEmptyHistory = errors.New("chat history is empty")
	ErrEmptyMessage = errors.New("latest user message is empty")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SourceURL struct {
	URL     string `json:"url"`
	Favicon string `json:"favicon"`
}

const faviconService = "https://www.google.com/s2/favicons?sz=64&domain="

// NewSourceURL derives the favicon from the URL's host.
func NewSourceURL(raw string) SourceURL {
	return SourceURL{URL: raw, Favicon: FaviconFor(raw)}
}

func FaviconFor(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	return faviconService + url.QueryEscape(strings.ToLower(parsed.Hostname()))
}

type ActivityState string

const (
	ActivityIdle             ActivityState = "idle"
	ActivityThinking         ActivityState = "thinking"
	ActivitySearching        ActivityState = "searching"
	ActivityResearching      ActivityState = "researching"
	ActivityGeneratingImages ActivityState = "generating_images"
)

func (s ActivityState) String() string {
	return string(s)
}

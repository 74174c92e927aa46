// Package intent decides what a chat turn needs before the model is called:
// an image, a direct URL fetch, a deep research job, or nothing at all.
package intent

import (
	"regexp"
	"strings"
)

type Kind string

const (
	PlainChat       Kind = "plain_chat"
	ImageGeneration Kind = "image_generation"
	URLFetch        Kind = "url_fetch"
	DeepResearch    Kind = "deep_research"
)

type Input struct {
	Text         string
	HasDocument  bool
	DeepResearch bool
}

type Decision struct {
	Kind            Kind     `json:"kind"`
	ContainsURL     bool     `json:"contains_url"`
	WantsNoSearch   bool     `json:"wants_no_search"`
	WantsSearch     bool     `json:"wants_search"`
	AllowURLFetch   bool     `json:"allow_url_fetch"`
	AllowDeepSearch bool     `json:"allow_deep_search"`
	URLs            []string `json:"urls,omitempty"`
	ImagePrompt     string   `json:"image_prompt,omitempty"`
}

var (
	imageCommandRE = regexp.MustCompile(`(?i)\b(generate|create|draw|make|render|paint|design|produce|show me)\b.{0,40}?\b(an? |the )?(image|picture|illustration|drawing|painting|photo|diagram|figure)s?\s+of\b`)
	urlRE          = regexp.MustCompile(`https?://[^\s\)\]\}>"']+`)
	searchWordRE   = regexp.MustCompile(`(?i)\b(search|newest|latest)\b`)
)

var noSearchPhrases = []string{
	"do not search",
	"don't search",
	"dont search",
	"without searching",
	"without search",
	"only read the pdf",
	"only use the pdf",
	"only from the pdf",
	"just read the pdf",
	"only the document",
	"only read the document",
}

// Classify applies the rules in priority order. An image command short
// circuits everything else; an explicit opt-out disables acquisition unless
// deep research was forced; a URL fetch beats a deep search.
func Classify(in Input) Decision {
	text := strings.TrimSpace(in.Text)
	if IsImageCommand(text) {
		return Decision{Kind: ImageGeneration, ImagePrompt: text}
	}

	d := Decision{
		URLs:          ExtractURLs(text),
		WantsNoSearch: WantsNoSearch(text),
		WantsSearch:   WantsSearch(text, in.DeepResearch),
	}
	d.ContainsURL = len(d.URLs) > 0

	if d.WantsNoSearch && !in.DeepResearch {
		d.Kind = PlainChat
		return d
	}
	d.AllowURLFetch = d.ContainsURL
	d.AllowDeepSearch = in.DeepResearch || (!in.HasDocument && d.WantsSearch)

	switch {
	case d.AllowURLFetch:
		d.Kind = URLFetch
	case d.AllowDeepSearch:
		d.Kind = DeepResearch
	default:
		d.Kind = PlainChat
	}
	return d
}

func IsImageCommand(text string) bool {
	return imageCommandRE.MatchString(text)
}

func ContainsURL(text string) bool {
	return urlRE.MatchString(text)
}

// ExtractURLs returns the distinct http(s) URLs in text in order of first
// appearance, with trailing sentence punctuation removed.
func ExtractURLs(text string) []string {
	matches := urlRE.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, match := range matches {
		url := strings.TrimRight(match, ".,;:!?")
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	return urls
}

func WantsNoSearch(text string) bool {
	lower := strings.ToLower(text)
	lower = strings.ReplaceAll(lower, "’", "'")
	for _, phrase := range noSearchPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func WantsSearch(text string, deepResearch bool) bool {
	return deepResearch || searchWordRE.MatchString(text)
}

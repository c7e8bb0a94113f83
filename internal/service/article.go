package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"feed_relay/internal/domain"
)

const (
	maxSummaryLen  = 250
	defaultTitle   = "No Title"
	defaultSummary = "No summary available."
)

var spaceRe = regexp.MustCompile(`\s+`)

// toArticles normalises entries into trackable articles, keeping their order.
func toArticles(entries []domain.Entry) []domain.Article {
	articles := make([]domain.Article, 0, len(entries))
	for _, e := range entries {
		key := e.Key()
		if key == "" {
			continue
		}
		ts, _ := e.EffectiveTime()

		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = defaultTitle
		}
		summary := truncate(stripHTML(e.Summary), maxSummaryLen)
		if summary == "" {
			summary = defaultSummary
		}

		articles = append(articles, domain.Article{
			Key:         key,
			Title:       title,
			Link:        e.Link,
			Summary:     summary,
			PublishedAt: ts,
		})
	}
	return articles
}

// stripHTML returns the text content of s with whitespace collapsed.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapse(sb.String())
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li":
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li":
				sb.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		}
	}
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// truncate cuts s to maxLen runes and appends an ellipsis when it was longer.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:maxLen]), " ") + "..."
}

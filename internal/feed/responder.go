package feed

import (
	"context"
	"strings"
)

// DefaultFallback is used when the template renders to nothing.
const DefaultFallback = "Great! ✨"

// Responder produces comment text for a post.
type Responder interface {
	Respond(ctx context.Context, p Post) (string, error)
}

// TemplateResponder renders a fixed template with {author} and {caption}
// placeholders.
type TemplateResponder struct {
	Template string
	Fallback string
}

// Respond implements Responder.
func (r TemplateResponder) Respond(_ context.Context, p Post) (string, error) {
	caption := p.Caption
	if runes := []rune(caption); len(runes) > 80 {
		caption = string(runes[:80]) + "…"
	}
	text := strings.NewReplacer("{author}", p.Author, "{caption}", caption).Replace(r.Template)
	text = strings.TrimSpace(text)
	if text == "" {
		text = r.Fallback
	}
	if text == "" {
		text = DefaultFallback
	}
	return text, nil
}

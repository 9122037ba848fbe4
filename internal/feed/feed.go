// Package feed turns posts from the home timeline into action candidates.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Dicklesworthstone/feedbot/internal/action"
)

// Post is one item of the home timeline.
type Post struct {
	Shortcode string `json:"shortcode"`
	MediaID   string `json:"media_id,omitempty"`
	Author    string `json:"author,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// Status of an evaluated post.
type Status string

const (
	StatusNew     Status = "new"
	StatusSeen    Status = "seen"
	StatusIgnored Status = "ignored"
)

// Evaluation is the decision taken for one post.
type Evaluation struct {
	Post       Post               `json:"post"`
	Status     Status             `json:"status"`
	Candidates []action.Candidate `json:"candidates,omitempty"`
}

// History reports whether a post has been engaged before.
type History interface {
	HasConversation(shortcode string) (bool, error)
}

// Options controls which posts produce candidates.
type Options struct {
	LikeAll         bool
	LikeKeywords    []string
	CommentKeywords []string
}

// Evaluator decides which actions to propose for each post.
type Evaluator struct {
	opts      Options
	history   History
	responder Responder
}

// NewEvaluator creates an Evaluator. history and responder may be nil: with
// no history every post is new; with no responder no comments are proposed.
func NewEvaluator(opts Options, history History, responder Responder) *Evaluator {
	return &Evaluator{opts: opts, history: history, responder: responder}
}

// Evaluate returns one Evaluation per post, in order.
func (e *Evaluator) Evaluate(ctx context.Context, posts []Post) ([]Evaluation, error) {
	out := make([]Evaluation, 0, len(posts))
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		if e.history != nil {
			seen, err := e.history.HasConversation(p.Shortcode)
			if err != nil {
				return out, fmt.Errorf("check history for %s: %w", p.Shortcode, err)
			}
			if seen {
				out = append(out, Evaluation{Post: p, Status: StatusSeen})
				continue
			}
		}

		ev := Evaluation{Post: p, Status: StatusIgnored}
		payload := map[string]string{"author": p.Author}
		if p.MediaID != "" {
			payload["media_id"] = p.MediaID
		}

		if e.opts.LikeAll || matchesAny(p.Caption, e.opts.LikeKeywords) {
			ev.Candidates = append(ev.Candidates, action.Candidate{
				Category: action.Like,
				Target:   p.Shortcode,
				Payload:  payload,
			})
		}

		if e.responder != nil && matchesAny(p.Caption, e.opts.CommentKeywords) {
			text, err := e.responder.Respond(ctx, p)
			switch {
			case err != nil:
				slog.Warn("responder failed, skipping comment", "post", p.Shortcode, "error", err)
			case strings.TrimSpace(text) != "":
				cp := make(map[string]string, len(payload)+1)
				for k, v := range payload {
					cp[k] = v
				}
				cp["text"] = text
				ev.Candidates = append(ev.Candidates, action.Candidate{
					Category: action.Comment,
					Target:   p.Shortcode,
					Payload:  cp,
				})
			}
		}

		if len(ev.Candidates) > 0 {
			ev.Status = StatusNew
		}
		out = append(out, ev)
	}
	return out, nil
}

// Categories returns the action categories Evaluate can propose with the
// current options, in stable order.
func (e *Evaluator) Categories() []action.Category {
	var cats []action.Category
	if e.responder != nil && len(e.opts.CommentKeywords) > 0 {
		cats = append(cats, action.Comment)
	}
	if e.opts.LikeAll || len(e.opts.LikeKeywords) > 0 {
		cats = append(cats, action.Like)
	}
	return cats
}

// Candidates flattens evaluations into the candidates to execute.
func Candidates(evals []Evaluation) []action.Candidate {
	var out []action.Candidate
	for _, ev := range evals {
		out = append(out, ev.Candidates...)
	}
	return out
}

func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

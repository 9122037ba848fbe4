// Package action defines the outbound action kinds the bot performs against
// the feed service, together with the candidate and result shapes that flow
// between feed evaluation, the executor and the remote client.
package action

import (
	"errors"
	"fmt"
	"strings"
)

// Category is one of the fixed action kinds.
type Category string

const (
	Like     Category = "like"
	Comment  Category = "comment"
	Follow   Category = "follow"
	Unfollow Category = "unfollow"
)

// ErrUnknownCategory is returned when parsing a name outside the closed set.
var ErrUnknownCategory = errors.New("unknown action category")

// All returns every category in a stable order.
func All() []Category {
	return []Category{Like, Comment, Follow, Unfollow}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case Like, Comment, Follow, Unfollow:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// StatKey returns the daily-stat counter name for the category
// ("like" -> "likes").
func (c Category) StatKey() string {
	return string(c) + "s"
}

// ParseCategory normalizes and validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Candidate is a proposed action produced by feed evaluation.
type Candidate struct {
	Category Category
	// Target is the post shortcode for like/comment, or the user id for
	// follow/unfollow.
	Target string
	// Payload carries category-specific data, e.g. "text" for comments.
	Payload map[string]string
}

// Text returns the comment text carried by the candidate, if any.
func (c Candidate) Text() string {
	if c.Payload == nil {
		return ""
	}
	return c.Payload["text"]
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s:%s", c.Category, c.Target)
}

// Result is what the remote service returned for a performed action. A
// non-empty Error marks the action as failed regardless of transport status.
type Result struct {
	Fields map[string]any `json:"fields,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Failed reports whether the remote reported an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

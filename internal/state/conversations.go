package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Interaction directions.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// Conversation is the bot's engagement with one post.
type Conversation struct {
	ID               int64     `json:"id"`
	PostShortcode    string    `json:"post_shortcode"`
	PostContent      string    `json:"post_content,omitempty"`
	IsActive         bool      `json:"is_active"`
	InteractionCount int       `json:"interaction_count"`
	LastAction       string    `json:"last_action,omitempty"`
	LastInteraction  time.Time `json:"last_interaction"`
	CreatedAt        time.Time `json:"created_at"`
}

// Interaction is one action taken on (or received for) a conversation.
type Interaction struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Type           string    `json:"type"`
	Content        string    `json:"content,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Direction      string    `json:"direction"`
	CreatedAt      time.Time `json:"created_at"`
}

const conversationColumns = `id, post_shortcode, post_content, is_active, interaction_count, last_action, last_interaction, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.PostShortcode, &c.PostContent, &c.IsActive,
		&c.InteractionCount, &c.LastAction, &c.LastInteraction, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertConversation creates the conversation for shortcode if it does not
// exist, or refreshes its content if it does.
func (s *Store) UpsertConversation(shortcode, content string) (*Conversation, error) {
	if shortcode == "" {
		return nil, errors.New("post shortcode is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	_, err := s.db.Exec(`
		INSERT INTO conversations (post_shortcode, post_content, last_interaction, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_shortcode) DO UPDATE SET
			post_content = CASE WHEN excluded.post_content = '' THEN post_content ELSE excluded.post_content END`,
		shortcode, content, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return s.getLocked(shortcode)
}

// GetConversation returns the conversation for shortcode or ErrNotFound.
func (s *Store) GetConversation(shortcode string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(shortcode)
}

func (s *Store) getLocked(shortcode string) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE post_shortcode = ?`, shortcode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// HasConversation reports whether shortcode has been engaged before.
func (s *Store) HasConversation(shortcode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE post_shortcode = ?`, shortcode).Scan(&count); err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return count > 0, nil
}

// RecordInteraction appends an interaction to the conversation for
// shortcode, creating the conversation if needed. The conversation is
// closed once it reaches the interaction limit.
func (s *Store) RecordInteraction(shortcode string, in Interaction) (*Conversation, error) {
	if shortcode == "" {
		return nil, errors.New("post shortcode is required")
	}
	if in.Type == "" {
		return nil, errors.New("interaction type is required")
	}
	if in.Direction == "" {
		in.Direction = DirectionOutgoing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	if err := func() error {
		if _, err := tx.Exec(`
			INSERT INTO conversations (post_shortcode, last_interaction, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(post_shortcode) DO NOTHING`,
			shortcode, now, now,
		); err != nil {
			return fmt.Errorf("ensure conversation: %w", err)
		}

		var id int64
		if err := tx.QueryRow(`SELECT id FROM conversations WHERE post_shortcode = ?`, shortcode).Scan(&id); err != nil {
			return fmt.Errorf("fetch conversation id: %w", err)
		}

		if _, err := tx.Exec(`
			INSERT INTO interactions (conversation_id, type, content, user_id, direction, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, in.Type, in.Content, in.UserID, in.Direction, in.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert interaction: %w", err)
		}

		if _, err := tx.Exec(`
			UPDATE conversations
			SET interaction_count = interaction_count + 1,
				last_action = ?,
				last_interaction = ?,
				is_active = CASE WHEN interaction_count + 1 >= ? THEN 0 ELSE is_active END
			WHERE id = ?`,
			in.Type, in.CreatedAt.UTC(), s.maxInteractions, id,
		); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		return nil
	}(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit interaction: %w", err)
	}
	return s.getLocked(shortcode)
}

// Interactions returns the interactions of a conversation, oldest first.
func (s *Store) Interactions(shortcode string) ([]Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT i.id, i.conversation_id, i.type, i.content, i.user_id, i.direction, i.created_at
		FROM interactions i JOIN conversations c ON c.id = i.conversation_id
		WHERE c.post_shortcode = ?
		ORDER BY i.created_at, i.id`, shortcode)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		if err := rows.Scan(&in.ID, &in.ConversationID, &in.Type, &in.Content, &in.UserID, &in.Direction, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// RecentConversations returns up to limit conversations, most recently
// active first.
func (s *Store) RecentConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations
		ORDER BY last_interaction DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ActiveConversationsSince counts active conversations with an interaction
// at or after since.
func (s *Store) ActiveConversationsSince(since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations
		WHERE is_active = 1 AND last_interaction >= ?`, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active conversations: %w", err)
	}
	return count, nil
}

// TotalInteractions returns the number of recorded interactions.
func (s *Store) TotalInteractions() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return count, nil
}

// HourlyActivity returns interaction counts per local hour of day for
// interactions at or after since.
func (s *Store) HourlyActivity(since time.Time) ([24]int, error) {
	var hours [24]int

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT created_at FROM interactions WHERE created_at >= ?`, since.UTC())
	if err != nil {
		return hours, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return hours, fmt.Errorf("scan activity: %w", err)
		}
		hours[t.Local().Hour()]++
	}
	return hours, rows.Err()
}

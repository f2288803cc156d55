package postgres

import (
	"context"

	"github.com/microlearn/gamification-engine/internal/domain/content"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
)

// Catalog implements content.Catalog on the users and lessons tables.
type Catalog struct {
	q Querier
}

// NewCatalog creates a catalog on q.
func NewCatalog(q Querier) *Catalog {
	return &Catalog{q: q}
}

// Lesson returns the lesson or shared.ErrLessonNotFound.
func (c *Catalog) Lesson(ctx context.Context, lessonID string) (content.Lesson, error) {
	var l content.Lesson
	err := c.q.QueryRow(ctx, `SELECT id, topic FROM lessons WHERE id = $1`, lessonID).Scan(&l.ID, &l.Topic)
	if IsNoRows(err) {
		return content.Lesson{}, shared.ErrLessonNotFound
	}
	if err != nil {
		return content.Lesson{}, mapError("content", "Lesson", err)
	}
	l.Topic = shared.NormalizeTopic(l.Topic)
	return l, nil
}

// UserExists reports whether the user is known and active.
func (c *Catalog) UserExists(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := c.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND active)`, userID).Scan(&ok)
	if err != nil {
		return false, mapError("content", "UserExists", err)
	}
	return ok, nil
}

// UpsertLesson registers a lesson under a topic.
func (c *Catalog) UpsertLesson(ctx context.Context, lessonID, topic string) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO lessons (id, topic) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET topic = EXCLUDED.topic`,
		lessonID, shared.NormalizeTopic(topic))
	return mapError("content", "UpsertLesson", err)
}

// SetUserActive registers the user or flips its active flag.
func (c *Catalog) SetUserActive(ctx context.Context, userID string, active bool) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO users (id, active) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active`,
		userID, active)
	return mapError("content", "SetUserActive", err)
}

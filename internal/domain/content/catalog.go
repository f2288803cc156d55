// Package content describes the read-only view the engine has of lessons and
// users owned by the content layer.
package content

import "context"

// Lesson is the part of a lesson the engine needs.
type Lesson struct {
	ID string
	// Topic is normalized (lower case, trimmed).
	Topic string
}

// Catalog resolves lesson and user references.
type Catalog interface {
	// Lesson returns the lesson or shared.ErrLessonNotFound.
	Lesson(ctx context.Context, lessonID string) (Lesson, error)

	// UserExists reports whether the user is known and active.
	UserExists(ctx context.Context, userID string) (bool, error)
}

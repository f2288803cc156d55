package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXP_Level(t *testing.T) {
	cases := []struct {
		xp    XP
		level int
	}{
		{0, 1},
		{50, 1},
		{99, 1},
		{100, 2},
		{199, 2},
		{250, 3},
		{1000, 11},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("xp_%d", tc.xp), func(t *testing.T) {
			assert.Equal(t, tc.level, tc.xp.Level())
		})
	}
}

func TestXP_AddFloorsAtZero(t *testing.T) {
	assert.Equal(t, XP(150), XP(100).Add(50))
	assert.Equal(t, XP(0), XP(10).Add(-50))
	assert.Equal(t, 50, XP(150).ToNextLevel())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, Percent(70), Percent(40).Max(70))
	assert.Equal(t, Percent(70), Percent(70).Max(40))
}

func TestNormalizeTopic(t *testing.T) {
	assert.Equal(t, "algebra", NormalizeTopic("  Algebra "))
	assert.Equal(t, "", NormalizeTopic("   "))
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 500)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MaxPageSize, p.Limit())
	assert.Equal(t, 0, p.Offset())
	assert.Equal(t, 40, NewPagination(3, 20).Offset())

	info := NewPageInfo(NewPagination(2, 20), 41)
	assert.Equal(t, PageInfo{Page: 2, Limit: 20, Total: 41, TotalPages: 3}, info)
	assert.Equal(t, 0, NewPageInfo(NewPagination(1, 20), 0).TotalPages)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, IsValidation(ErrInvalidPercent))
	assert.True(t, IsValidation(ErrTopicMissing))
	assert.False(t, IsNotFound(ErrInvalidPercent))

	assert.True(t, IsNotFound(ErrLessonNotFound))
	assert.True(t, IsNotFound(ErrGameStateNotFound))

	assert.True(t, IsCollaboratorUnavailable(ErrDirectoryTimeout))
	assert.True(t, IsRetryable(ErrDirectoryTimeout))

	conflict := WrapError("postgres", "Commit", ErrConcurrentModification, "serialization failure", errors.New("40001"))
	assert.True(t, IsConflict(conflict))
	assert.True(t, IsRetryable(conflict))

	wrapped := fmt.Errorf("apply: %w", ErrDuplicateEvent)
	assert.True(t, IsAlreadyProcessed(wrapped))
	assert.True(t, errors.Is(wrapped, ErrDuplicateEvent))
}

func TestDomainError_Message(t *testing.T) {
	err := WrapError("progress", "Apply", ErrNotFound, "lesson missing", errors.New("no rows"))
	assert.Equal(t, "progress.Apply: lesson missing: no rows", err.Error())
	assert.Equal(t, "leaderboard.Validate: limit must be positive", ErrInvalidLimit.Error())
}

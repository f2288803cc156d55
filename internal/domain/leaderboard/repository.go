package leaderboard

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING INDEX
// ══════════════════════════════════════════════════════════════════════════════

// RankingIndex is the orderable view of users on a board. It is computed from
// game states and progress records at read time, so it is eventually
// consistent with writes. Only users with a game state who are active in the
// user catalog take part.
type RankingIndex interface {
	// Standing returns the user's row with Rank set to one plus the number of
	// users strictly ahead on the board. A user without a game state yields
	// shared.ErrGameStateNotFound. On a topic board a user with no completed
	// lesson in the topic still gets a standing (count 0).
	Standing(ctx context.Context, board Board, userID string) (Standing, error)

	// Top returns at most n rows in board order with ranks assigned.
	Top(ctx context.Context, board Board, n int) ([]Standing, error)

	// Count returns the number of users on the board.
	Count(ctx context.Context, board Board) (int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotCache stores materialized listings between reads.
type SnapshotCache interface {
	// GetSnapshot returns the cached snapshot or (nil, nil) on a miss.
	GetSnapshot(ctx context.Context, board Board) (*Snapshot, error)

	// PutSnapshot stores the snapshot for ttl.
	PutSnapshot(ctx context.Context, snapshot *Snapshot, ttl time.Duration) error

	// Invalidate drops the snapshots of the given boards.
	Invalidate(ctx context.Context, boards ...Board) error
}

// ══════════════════════════════════════════════════════════════════════════════
// USER DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

// Profile is the display data the user directory holds for a user.
type Profile struct {
	UserID      string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// UserDirectory resolves display data in one batched call.
type UserDirectory interface {
	// LookupProfiles returns the profiles it knows; missing ids are simply
	// absent from the map. Failures wrap shared.ErrServiceUnavailable.
	LookupProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
}

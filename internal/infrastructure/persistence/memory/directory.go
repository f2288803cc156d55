package memory

import (
	"context"
	"sync"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
)

// Directory is a seeded leaderboard.UserDirectory. Err, when set, is returned
// from every lookup.
type Directory struct {
	mu       sync.RWMutex
	profiles map[string]leaderboard.Profile
	calls    int
	Err      error
}

// NewDirectory creates a directory holding profiles.
func NewDirectory(profiles ...leaderboard.Profile) *Directory {
	d := &Directory{profiles: make(map[string]leaderboard.Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.UserID] = p
	}
	return d
}

func (d *Directory) LookupProfiles(ctx context.Context, userIDs []string) (map[string]leaderboard.Profile, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]leaderboard.Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := d.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Calls returns how many lookups were made.
func (d *Directory) Calls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls
}

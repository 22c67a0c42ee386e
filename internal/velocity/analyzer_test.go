package velocity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sybethiesant/flexerr/internal/mediaserver"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func defaultParams() Params {
	return Params{
		MinDaysSinceWatch:    14,
		VelocityBufferDays:   7,
		ProtectEpisodesAhead: 3,
		ActiveViewerDays:     30,
	}
}

// makeEpisodes builds n sequential season-1 episodes, all watched long ago
func makeEpisodes(n int) []Episode {
	old := testNow.AddDate(0, 0, -120)
	episodes := make([]Episode, 0, n)
	for i := 1; i <= n; i++ {
		watched := old
		episodes = append(episodes, Episode{
			Key:           fmt.Sprintf("ep-%d", i),
			AbsoluteIndex: i,
			Season:        1,
			Episode:       i,
			LastViewedAt:  &watched,
			ViewCount:     1,
		})
	}
	return episodes
}

// watchRun produces one event per episode from 1 to position, spaced to give
// the user the requested pace inside the active window
func watchRun(userID string, position int, episodesPerDay float64) []mediaserver.WatchEvent {
	events := make([]mediaserver.WatchEvent, 0, position)
	gap := time.Duration(float64(24*time.Hour) / episodesPerDay)
	at := testNow.Add(-time.Duration(position) * gap)
	for ep := 1; ep <= position; ep++ {
		events = append(events, mediaserver.WatchEvent{
			UserID:   userID,
			Season:   1,
			Episode:  ep,
			ViewedAt: at,
		})
		at = at.Add(gap)
	}
	return events
}

func TestBuildEpisodesOrdering(t *testing.T) {
	children := []mediaserver.Item{
		{Key: "s2e1", SeasonNumber: 2, EpisodeNumber: 1},
		{Key: "s0e1", SeasonNumber: 0, EpisodeNumber: 1},
		{Key: "s1e2", SeasonNumber: 1, EpisodeNumber: 2},
		{Key: "s1e1", SeasonNumber: 1, EpisodeNumber: 1},
	}

	episodes := BuildEpisodes(children)
	require.Len(t, episodes, 4)

	// Season order with specials last, absolute index 1-based
	assert.Equal(t, "s1e1", episodes[0].Key)
	assert.Equal(t, "s1e2", episodes[1].Key)
	assert.Equal(t, "s2e1", episodes[2].Key)
	assert.Equal(t, "s0e1", episodes[3].Key)
	for i, ep := range episodes {
		assert.Equal(t, i+1, ep.AbsoluteIndex)
	}
}

func TestMergeMissing(t *testing.T) {
	episodes := BuildEpisodes([]mediaserver.Item{
		{Key: "s1e1", SeasonNumber: 1, EpisodeNumber: 1},
		{Key: "s1e3", SeasonNumber: 1, EpisodeNumber: 3},
	})

	merged := MergeMissing(episodes, []EpisodeRef{
		{Season: 1, Episode: 2},
		{Season: 1, Episode: 3}, // already present, not duplicated
	})

	require.Len(t, merged, 3)
	assert.Equal(t, "s1e1", merged[0].Key)
	assert.True(t, merged[1].Missing)
	assert.Equal(t, 2, merged[1].AbsoluteIndex)
	assert.Equal(t, "s1e3", merged[2].Key)
	assert.Equal(t, 3, merged[2].AbsoluteIndex)
}

func TestAnalyzeTwoViewersProtectsBetweenAndAhead(t *testing.T) {
	a := NewAnalyzer(nil)
	episodes := makeEpisodes(20)

	// Two viewers one pace apart: the slower one is at episode 5
	history := append(watchRun("slow", 5, 1.0), watchRun("fast", 12, 1.0)...)

	result := a.Analyze("show-1", episodes, history, defaultParams(), testNow)
	require.Len(t, result.ActiveUsers, 2)

	deletable := make(map[int]bool)
	for _, v := range result.Verdicts {
		deletable[v.Episode.AbsoluteIndex] = v.Deletable
	}

	// Behind the slowest viewer: safe to delete
	for i := 1; i <= 4; i++ {
		assert.True(t, deletable[i], "episode %d should be deletable", i)
	}

	// From the slowest position through the faster viewer: protected
	for i := 5; i <= 12; i++ {
		assert.False(t, deletable[i], "episode %d should be protected", i)
	}
}

func TestAnalyzeNoActiveViewers(t *testing.T) {
	a := NewAnalyzer(nil)
	episodes := makeEpisodes(5)

	// All history is outside the active window
	staleAt := testNow.AddDate(0, 0, -90)
	history := []mediaserver.WatchEvent{
		{UserID: "alice", Season: 1, Episode: 1, ViewedAt: staleAt},
		{UserID: "alice", Season: 1, Episode: 2, ViewedAt: staleAt},
	}

	result := a.Analyze("show-1", episodes, history, defaultParams(), testNow)
	assert.Empty(t, result.ActiveUsers)

	for _, v := range result.Verdicts {
		assert.True(t, v.Deletable, "episode %d", v.Episode.AbsoluteIndex)
	}
}

func TestAnalyzeNeverWatchedEpisodesProtected(t *testing.T) {
	a := NewAnalyzer(nil)

	episodes := makeEpisodes(3)
	episodes[2].LastViewedAt = nil
	episodes[2].ViewCount = 0

	result := a.Analyze("show-1", episodes, nil, defaultParams(), testNow)

	assert.True(t, result.Verdicts[0].Deletable)
	assert.True(t, result.Verdicts[1].Deletable)
	assert.False(t, result.Verdicts[2].Deletable)
	assert.Equal(t, "never watched", result.Verdicts[2].ProtectionReason)
}

func TestAnalyzeMinDaysSinceWatch(t *testing.T) {
	a := NewAnalyzer(nil)

	episodes := makeEpisodes(2)
	recent := testNow.AddDate(0, 0, -3)
	episodes[1].LastViewedAt = &recent

	result := a.Analyze("show-1", episodes, nil, defaultParams(), testNow)

	assert.True(t, result.Verdicts[0].Deletable)
	assert.False(t, result.Verdicts[1].Deletable)
	assert.Contains(t, result.Verdicts[1].ProtectionReason, "below the 14 day minimum")
}

func TestAnalyzeSkipAheadPosition(t *testing.T) {
	a := NewAnalyzer(nil)
	episodes := makeEpisodes(10)

	// A viewer who watched 1, 2 and then jumped to 8 is placed at 8, not 2
	at := testNow.AddDate(0, 0, -2)
	history := []mediaserver.WatchEvent{
		{UserID: "alice", Season: 1, Episode: 1, ViewedAt: at},
		{UserID: "alice", Season: 1, Episode: 2, ViewedAt: at.Add(time.Hour)},
		{UserID: "alice", Season: 1, Episode: 8, ViewedAt: at.Add(2 * time.Hour)},
	}

	result := a.Analyze("show-1", episodes, history, defaultParams(), testNow)
	require.Len(t, result.ActiveUsers, 1)
	assert.Equal(t, 8, result.ActiveUsers[0].Position)
}

func TestAnalyzeRequireAllUsersWatched(t *testing.T) {
	a := NewAnalyzer(nil)
	params := defaultParams()
	params.RequireAllUsersWatched = true

	episodes := makeEpisodes(6)
	history := append(watchRun("slow", 2, 1.0), watchRun("fast", 6, 1.0)...)

	result := a.Analyze("show-1", episodes, history, params, testNow)

	// Nothing past the slow viewer's watched set is deletable
	for _, v := range result.Verdicts {
		if v.Episode.AbsoluteIndex > 2 {
			assert.False(t, v.Deletable, "episode %d", v.Episode.AbsoluteIndex)
		}
	}
}

func TestAnalyzeProactiveRedownload(t *testing.T) {
	a := NewAnalyzer(nil)
	params := defaultParams()
	params.ProactiveRedownload = true
	params.RedownloadLeadDays = 5

	episodes := makeEpisodes(20)
	// Index 7 sits just ahead of the viewer; index 20 is weeks away
	episodes[6].Missing = true
	episodes[6].LastViewedAt = nil
	episodes[6].ViewCount = 0
	episodes[19].Missing = true
	episodes[19].LastViewedAt = nil
	episodes[19].ViewCount = 0

	history := watchRun("alice", 5, 1.0)
	result := a.Analyze("show-1", episodes, history, params, testNow)

	requests := result.RedownloadRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, 7, requests[0].Episode.AbsoluteIndex)
}

func TestProtectionBuffer(t *testing.T) {
	params := defaultParams()

	tests := []struct {
		name  string
		users []UserState
		want  int
	}{
		{name: "no users keeps the floor", users: nil, want: 3},
		{name: "zero velocity keeps the floor", users: []UserState{{EpisodesPerDay: 0}}, want: 3},
		{name: "slow pace below the floor", users: []UserState{{EpisodesPerDay: 0.2}}, want: 3},
		{name: "fast pace widens the buffer", users: []UserState{{EpisodesPerDay: 2.0}}, want: 14},
		{name: "fractional pace rounds up", users: []UserState{{EpisodesPerDay: 0.5}}, want: 4},
		{
			name:  "fastest of several viewers sizes the buffer",
			users: []UserState{{EpisodesPerDay: 0.5}, {EpisodesPerDay: 2.0}, {EpisodesPerDay: 1.0}},
			want:  14,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, protectionBuffer(tt.users, params))
		})
	}
}

func TestAnalyzeBufferWidthIsMonotonic(t *testing.T) {
	a := NewAnalyzer(nil)
	episodes := makeEpisodes(30)
	history := append(watchRun("slow", 4, 0.5), watchRun("fast", 10, 2.0)...)

	previous := -1
	for _, bufferDays := range []int{1, 3, 7, 14, 30} {
		params := defaultParams()
		params.VelocityBufferDays = bufferDays

		result := a.Analyze("show-1", episodes, history, params, testNow)

		protected := 0
		for _, v := range result.Verdicts {
			if !v.Deletable {
				protected++
			}
		}

		assert.GreaterOrEqual(t, protected, previous,
			"widening the buffer window to %d days shrank the protected set", bufferDays)
		previous = protected
	}
}

func TestDaysToReach(t *testing.T) {
	user := &UserState{Position: 5, EpisodesPerDay: 2.0}

	days, ok := daysToReach(9, user)
	require.True(t, ok)
	assert.InDelta(t, 2.0, days, 0.001)

	// Already passed
	_, ok = daysToReach(3, user)
	assert.False(t, ok)

	// No velocity means no projection
	_, ok = daysToReach(9, &UserState{Position: 5})
	assert.False(t, ok)
}

func TestComputeVelocitySingleSitting(t *testing.T) {
	at := testNow.Add(-time.Hour)
	events := []mediaserver.WatchEvent{
		{UserID: "alice", Season: 1, Episode: 1, ViewedAt: at},
	}
	assert.Equal(t, 1.0, computeVelocity(events, at, at))
}

func TestSnapshot(t *testing.T) {
	a := NewAnalyzer(nil)
	episodes := makeEpisodes(10)
	history := watchRun("alice", 4, 2.0)

	result := a.Analyze("show-1", episodes, history, defaultParams(), testNow)
	records := result.Snapshot(episodes, testNow)

	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].UserID)
	assert.Equal(t, "show-1", records[0].ShowKey)
	assert.Equal(t, 4, records[0].AbsolutePosition)
	assert.Equal(t, 1, records[0].Season)
	assert.Equal(t, 4, records[0].Episode)
	assert.Greater(t, records[0].EpisodesPerDay, 0.0)
}

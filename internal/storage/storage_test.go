// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/signal"
)

func openTestStore(t *testing.T) *DecisionStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleDecision(v router.Venue, rule string) router.Decision {
	return router.Decision{
		Venue:          v,
		Reason:         "test",
		Rule:           rule,
		Complexity:     signal.ComplexitySimple,
		Network:        signal.NetworkGood,
		Device:         signal.DeviceOptimal,
		MetricsSource:  "server",
		DecisionTimeMS: 0.25,
	}
}

func TestSaveAndRecentDecisions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []router.Venue{router.VenueLocal, router.VenueServer, router.VenueLocal} {
		rec := NewDecisionRecord("conv-1", "turn on the lights", sampleDecision(v, router.RuleSimpleCommand))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		id, err := store.SaveDecision(ctx, rec)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	recent, err := store.RecentDecisions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "local", recent[0].Venue, "newest first")
	assert.Equal(t, "server", recent[1].Venue)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, "simple", recent[0].Complexity)
	assert.Equal(t, "good", recent[0].Network)
	assert.Equal(t, "optimal", recent[0].Device)
	assert.Equal(t, "conv-1", recent[0].ConversationID)
	assert.InDelta(t, 0.25, recent[0].DecisionTimeMS, 1e-9)
	assert.False(t, recent[0].Forced)
}

func TestRecentDecisions_Empty(t *testing.T) {
	store := openTestStore(t)
	recent, err := store.RecentDecisions(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, recent)
	assert.Empty(t, recent)
}

func TestForcedDecisionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	d := sampleDecision(router.VenueHybrid, router.RuleForced)
	d.Forced = true
	d.MetricsSource = ""
	_, err := store.SaveDecision(ctx, NewDecisionRecord("", "x", d))
	require.NoError(t, err)

	recent, err := store.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Forced)
	assert.Equal(t, "hybrid", recent[0].Venue)
	assert.Empty(t, recent[0].MetricsSource)
}

func TestVenueCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	venues := []router.Venue{router.VenueServer, router.VenueLocal, router.VenueServer, router.VenueServer}
	for _, v := range venues {
		_, err := store.SaveDecision(ctx, NewDecisionRecord("", "cmd", sampleDecision(v, router.RuleDefault)))
		require.NoError(t, err)
	}

	counts, err := store.VenueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []VenueCount{{Venue: "server", Count: 3}, {Venue: "local", Count: 1}}, counts)
}

func TestTransitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveTransition(ctx, TransitionRecord{ConversationID: "c1", From: "local", To: "server"})
	require.NoError(t, err)
	_, err = store.SaveTransition(ctx, TransitionRecord{ConversationID: "c1", From: "server", To: "local"})
	require.NoError(t, err)
	_, err = store.SaveTransition(ctx, TransitionRecord{ConversationID: "c2", From: "local", To: "server"})
	require.NoError(t, err)

	got, err := store.ConversationTransitions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "server", got[0].To)
	assert.Equal(t, "local", got[1].To)
}

func TestNewDecisionRecord_TruncatesPreview(t *testing.T) {
	long := strings.Repeat("explain ", 40) + "\nthe\tweather"
	rec := NewDecisionRecord("", long, sampleDecision(router.VenueServer, router.RuleComplexCommand))
	assert.LessOrEqual(t, len([]rune(rec.TextPreview)), PreviewRunes)
	assert.True(t, strings.HasSuffix(rec.TextPreview, "..."))
	assert.NotContains(t, rec.TextPreview, "\n")
}

func TestConcurrentWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.SaveDecision(ctx, NewDecisionRecord("", "cmd", sampleDecision(router.VenueLocal, router.RuleDefault)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counts, err := store.VenueCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(20), counts[0].Count)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultRecentLimit, clampLimit(0))
	assert.Equal(t, DefaultRecentLimit, clampLimit(-5))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, MaxRecentLimit, clampLimit(MaxRecentLimit+1))
}

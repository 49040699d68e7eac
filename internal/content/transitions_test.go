package content

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransitionKeywordTable(t *testing.T) {
	t.Parallel()

	date := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		from    KeywordStatus
		to      KeywordStatus
		wantErr error
	}{
		{"plan", KeywordUnplanned, KeywordPlanned, nil},
		{"replan", KeywordPlanned, KeywordPlanned, nil},
		{"consume planned", KeywordPlanned, KeywordUsed, nil},
		{"consume ad hoc", KeywordUnplanned, KeywordUsed, nil},
		{"unplan", KeywordPlanned, KeywordUnplanned, ErrInvalidTransition},
		{"used to planned", KeywordUsed, KeywordPlanned, ErrKeywordUsed},
		{"used to unplanned", KeywordUsed, KeywordUnplanned, ErrKeywordUsed},
		{"used to used", KeywordUsed, KeywordUsed, ErrKeywordUsed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			kw := Keyword{Status: tc.from}
			err := TransitionKeyword(&kw, tc.to, &date)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Equal(t, tc.from, kw.Status)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.to, kw.Status)
		})
	}
}

func TestTransitionKeywordRequiresPlannedDate(t *testing.T) {
	t.Parallel()

	kw := Keyword{Status: KeywordUnplanned}
	err := TransitionKeyword(&kw, KeywordPlanned, nil)
	require.ErrorIs(t, err, ErrValidationFailed)
	require.Equal(t, KeywordUnplanned, kw.Status)
	require.Nil(t, kw.PlannedDate)
}

func TestKeywordNeverLeavesUsed(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	statuses := []KeywordStatus{KeywordUnplanned, KeywordPlanned, KeywordUsed}
	date := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for run := 0; run < 200; run++ {
		kw := Keyword{Status: KeywordUnplanned}
		reachedUsed := false
		for step := 0; step < 20; step++ {
			_ = TransitionKeyword(&kw, statuses[rng.Intn(len(statuses))], &date)
			if reachedUsed {
				require.Equal(t, KeywordUsed, kw.Status)
			}
			reachedUsed = kw.Status == KeywordUsed
		}
	}
}

func TestApplyArticlePatchPublishedAtInvariant(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(11))
	statuses := []ArticleStatus{ArticleDraft, ArticleScheduled, ArticlePublished}
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for run := 0; run < 200; run++ {
		a := Article{Status: ArticleDraft}
		for step := 0; step < 15; step++ {
			to := statuses[rng.Intn(len(statuses))]
			patch := ArticlePatch{Status: &to}
			if rng.Intn(2) == 0 {
				s := now.Add(time.Duration(rng.Intn(48)) * time.Hour)
				patch.ScheduledFor = &s
			}
			if rng.Intn(4) == 0 {
				p := now.Add(-time.Hour)
				patch.PublishedAt = &p
			}
			_, _ = ApplyArticlePatch(&a, patch, OriginUser, now)
			require.Equal(t, a.Status == ArticlePublished, a.PublishedAt != nil,
				"status=%s publishedAt=%v", a.Status, a.PublishedAt)
		}
	}
}

func TestApplyArticlePatchTransitions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	schedule := now.Add(24 * time.Hour)
	published := ArticlePublished
	scheduled := ArticleScheduled
	draft := ArticleDraft

	t.Run("draft to published by user triggers auto publish", func(t *testing.T) {
		t.Parallel()
		a := Article{Status: ArticleDraft}
		change, err := ApplyArticlePatch(&a, ArticlePatch{Status: &published}, OriginUser, now)
		require.NoError(t, err)
		require.True(t, change.TriggersAutoPublish)
		require.Equal(t, now, *a.PublishedAt)
	})

	t.Run("machine origin never triggers auto publish", func(t *testing.T) {
		t.Parallel()
		a := Article{Status: ArticleDraft}
		change, err := ApplyArticlePatch(&a, ArticlePatch{Status: &published}, OriginMachine, now)
		require.NoError(t, err)
		require.False(t, change.TriggersAutoPublish)
	})

	t.Run("scheduled to published keeps supplied timestamp", func(t *testing.T) {
		t.Parallel()
		a := Article{Status: ArticleScheduled, ScheduledFor: &schedule}
		at := now.Add(-time.Minute)
		change, err := ApplyArticlePatch(&a, ArticlePatch{Status: &published, PublishedAt: &at}, OriginUser, now)
		require.NoError(t, err)
		require.False(t, change.TriggersAutoPublish)
		require.Equal(t, at, *a.PublishedAt)
	})

	t.Run("scheduling needs a due time", func(t *testing.T) {
		t.Parallel()
		a := Article{Status: ArticleDraft}
		_, err := ApplyArticlePatch(&a, ArticlePatch{Status: &scheduled}, OriginUser, now)
		require.ErrorIs(t, err, ErrValidationFailed)
		require.Equal(t, ArticleDraft, a.Status)

		_, err = ApplyArticlePatch(&a, ArticlePatch{Status: &scheduled, ScheduledFor: &schedule}, OriginUser, now)
		require.NoError(t, err)
		require.Nil(t, a.PublishedAt)
		require.Equal(t, schedule, *a.ScheduledFor)
	})

	t.Run("published is final", func(t *testing.T) {
		t.Parallel()
		at := now
		a := Article{Status: ArticlePublished, PublishedAt: &at}
		_, err := ApplyArticlePatch(&a, ArticlePatch{Status: &draft}, OriginUser, now)
		require.ErrorIs(t, err, ErrInvalidTransition)
		require.Equal(t, ArticlePublished, a.Status)
	})

	t.Run("republishing is an edit", func(t *testing.T) {
		t.Parallel()
		at := now.Add(-time.Hour)
		a := Article{Status: ArticlePublished, PublishedAt: &at}
		title := "New title"
		change, err := ApplyArticlePatch(&a, ArticlePatch{Status: &published, Title: &title}, OriginUser, now)
		require.NoError(t, err)
		require.False(t, change.Changed())
		require.False(t, change.TriggersAutoPublish)
		require.Equal(t, at, *a.PublishedAt)
		require.Equal(t, "New title", a.Title)
	})
}

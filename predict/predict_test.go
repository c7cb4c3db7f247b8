package predict

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachyon-beep/mnemosyne/pattern"
)

func newFixture(t *testing.T) (*Predictor, *pattern.Learner, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	learner := pattern.NewWithClock(1000, 1, mock, nil)
	p := NewWithClock(learner, 10, mock, nil)
	return p, learner, mock
}

func seedSequence(learner *pattern.Learner, mock *clock.Mock, userID string, keys ...string) {
	base := mock.Now()
	for _, k := range keys {
		learner.RecordRequest(k, userID, pattern.Context{Time: mock.Now()})
		mock.Add(time.Second)
	}
	_ = base
}

func TestPredict_SequenceModelProposesNextKey(t *testing.T) {
	p, learner, mock := newFixture(t)
	for i := 0; i < 5; i++ {
		seedSequence(learner, mock, "u1", "k1", "k2", "k3")
	}

	preds := p.Predict("u1", []string{"k1", "k2"}, pattern.Context{Time: mock.Now()}, "flow", 0.1)
	require.NotEmpty(t, preds)
	found := false
	for _, pr := range preds {
		if pr.CacheKey == "k3" {
			found = true
		}
	}
	assert.True(t, found, "expected k3 to be proposed from the k1->k2->k3 pattern")
}

func TestPredict_CollaborativeDisabledByDefault(t *testing.T) {
	p, _, mock := newFixture(t)
	preds := p.Predict("u1", nil, pattern.Context{Time: mock.Now()}, "flow", 0.1)
	for _, pr := range preds {
		assert.NotEqual(t, Collaborative, pr.Model)
	}
	stats := p.Stats()
	assert.True(t, stats[Collaborative].Disabled)
}

type fakeCollaborative struct{}

func (fakeCollaborative) SimilarUsers(userID string, recentKeys []string) map[string]float64 {
	return map[string]float64{"u2": 0.8}
}
func (fakeCollaborative) TopKeysFor(userID string) []string {
	return []string{"shared-key"}
}

func TestPredict_CollaborativeEnabledAfterProvider(t *testing.T) {
	p, _, mock := newFixture(t)
	p.WithCollaborativeProvider(fakeCollaborative{})

	preds := p.Predict("u1", []string{"k1"}, pattern.Context{Time: mock.Now()}, "flow", 0)
	var found bool
	for _, pr := range preds {
		if pr.Model == Collaborative && pr.CacheKey == "shared-key" {
			found = true
		}
	}
	assert.True(t, found)
	stats := p.Stats()
	assert.False(t, stats[Collaborative].Disabled)
}

func TestPredict_DedupKeepsHighestConfidence(t *testing.T) {
	preds := dedupeByCacheKey([]Prediction{
		{CacheKey: "x", Confidence: 0.2},
		{CacheKey: "x", Confidence: 0.9},
		{CacheKey: "y", Confidence: 0.5},
	})
	require.Len(t, preds, 2)
	for _, p := range preds {
		if p.CacheKey == "x" {
			assert.Equal(t, 0.9, p.Confidence)
		}
	}
}

func TestPredict_CapAtMaxConcurrentPredictions(t *testing.T) {
	p, learner, mock := newFixture(t)
	for i := 0; i < 20; i++ {
		seedSequence(learner, mock, "u1", string(rune('a'+i)), string(rune('A'+i)))
	}
	preds := p.Predict("u1", nil, pattern.Context{Time: mock.Now()}, "flow", 0)
	assert.LessOrEqual(t, len(preds), 10)
}

func TestUpdate_EMAAccuracyMovesTowardOutcome(t *testing.T) {
	p, _, _ := newFixture(t)
	pred := Prediction{Model: Sequence, CacheKey: "k1"}

	p.Update(pred, true)
	p.Update(pred, true)
	p.Update(pred, true)

	stats := p.Stats()
	assert.Greater(t, stats[Sequence].Accuracy, 0.0)
	assert.Equal(t, 3, stats[Sequence].TrainingCount)
}

func TestUpdate_RecomputesEvery100Samples(t *testing.T) {
	p, _, _ := newFixture(t)
	pred := Prediction{Model: Temporal, CacheKey: "k1"}
	for i := 0; i < 100; i++ {
		p.Update(pred, i%2 == 0)
	}
	stats := p.Stats()
	assert.InDelta(t, 0.5, stats[Temporal].Accuracy, 0.01)
}

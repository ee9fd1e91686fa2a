package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memctx/memctx/internal/memory"
)

// fakeStore serves records from a slice, filtering liveness and group
// membership the way the SQLite store does, preserving insertion order.
type fakeStore struct {
	records    []memory.Record
	countCalls int
	listCalls  int
	countErr   error
	listErr    error
	now        time.Time
}

func (f *fakeStore) clock() time.Time {
	if f.now.IsZero() {
		return time.Now()
	}
	return f.now
}

func (f *fakeStore) CountActive(_ context.Context, agentID string) (int, error) {
	f.countCalls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	count := 0
	for i := range f.records {
		if f.records[i].AgentID == agentID && !f.records[i].Expired(f.clock()) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListActive(_ context.Context, agentID string, group memory.Group) ([]memory.Record, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []memory.Record
	for i := range f.records {
		rec := f.records[i]
		if rec.AgentID != agentID || rec.Expired(f.clock()) {
			continue
		}
		if group != memory.GroupAll {
			g, ok := rec.Category.Group()
			if !ok || g != group {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// staticEmbedder returns one fixed vector and counts calls.
type staticEmbedder struct {
	vec   []float64
	err   error
	calls int
}

func (s *staticEmbedder) Embed(context.Context, string) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *staticEmbedder) Model() string   { return "static" }
func (s *staticEmbedder) Dimensions() int { return len(s.vec) }

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func rec(agent, key string, cat memory.Category, embedding []float64, updatedAt time.Time) memory.Record {
	return memory.Record{
		AgentID:   agent,
		Key:       key,
		Value:     "value of " + key,
		Category:  cat,
		Embedding: embedding,
		UpdatedAt: updatedAt,
	}
}

func newTestEngine(store Store, embedder Embedder, params Params) *Engine {
	return New(store, embedder, params, WithClock(func() time.Time { return testNow }))
}

func keys(entries []memory.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func TestRetrieveInvalidAgentID(t *testing.T) {
	e := newTestEngine(&fakeStore{}, nil, DefaultParams())

	for _, agentID := range []string{"", "   "} {
		_, err := e.Retrieve(context.Background(), agentID, "hello")
		assert.ErrorIs(t, err, ErrInvalidAgentID, "agent id %q", agentID)
	}
}

// Scenario: five GENERAL records, none expired — the bulk path returns all of
// them in store order without touching the embedder.
func TestRetrieveBulkPath(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 5; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("mem-%d", i), memory.CategoryGeneral, nil, testNow))
	}
	emb := &staticEmbedder{vec: []float64{1, 0}}
	e := newTestEngine(st, emb, DefaultParams())

	out, err := e.Retrieve(context.Background(), "a1", "anything")
	require.NoError(t, err)

	assert.Equal(t, []string{"mem-0", "mem-1", "mem-2", "mem-3", "mem-4"}, keys(out))
	assert.Zero(t, emb.calls, "bulk path must not call the embedder")
}

func TestRetrieveThresholdBoundary(t *testing.T) {
	emb := &staticEmbedder{vec: []float64{1, 0}}

	build := func(n int) *fakeStore {
		st := &fakeStore{now: testNow}
		for i := 0; i < n; i++ {
			st.records = append(st.records,
				rec("a1", fmt.Sprintf("mem-%02d", i), memory.CategoryGeneral, []float64{1, 0}, testNow))
		}
		return st
	}

	// Exactly at the threshold: bulk, everything returned.
	e := newTestEngine(build(30), emb, DefaultParams())
	out, err := e.Retrieve(context.Background(), "a1", "q")
	require.NoError(t, err)
	assert.Len(t, out, 30)
	assert.Zero(t, emb.calls)

	// One above: hybrid, embedder called once, contextual tier truncated.
	e = newTestEngine(build(31), emb, DefaultParams())
	out, err = e.Retrieve(context.Background(), "a1", "q")
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls, "one embedding call per retrieval")
	assert.Len(t, out, 10, "no core records, contextual capped at 10")
}

// Scenario: 40 records, 5 INSTRUCTION + 35 GENERAL. The query matches three
// GENERAL records exactly; the rest are orthogonal and, at one half-life of
// age, score 0.2 — below the 0.3 floor. Output is 5 core + 3 contextual.
func TestRetrieveHybridSelection(t *testing.T) {
	st := &fakeStore{now: testNow}
	halfLifeAgo := testNow.Add(-30 * day)

	for i := 0; i < 5; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("core-%d", i), memory.CategoryInstruction, nil, testNow))
	}
	for _, key := range []string{"hit-0", "hit-1", "hit-2"} {
		st.records = append(st.records,
			rec("a1", key, memory.CategoryGeneral, []float64{1, 0, 0}, halfLifeAgo))
	}
	for i := 0; i < 32; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("miss-%02d", i), memory.CategoryGeneral, []float64{0, 1, 0}, halfLifeAgo))
	}

	emb := &staticEmbedder{vec: []float64{1, 0, 0}}
	e := newTestEngine(st, emb, DefaultParams())

	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)

	require.Len(t, out, 8)
	assert.Equal(t, []string{"core-0", "core-1", "core-2", "core-3", "core-4", "hit-0", "hit-1", "hit-2"}, keys(out))
	assert.Equal(t, 1, emb.calls)
}

func TestRetrieveCoreCompleteAndBounded(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 12; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("core-%02d", i), memory.CategoryPreference, nil, testNow))
	}
	// 25 contextual records that all score well.
	for i := 0; i < 25; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("ctx-%02d", i), memory.CategoryContext, []float64{1, 0}, testNow))
	}

	e := newTestEngine(st, &staticEmbedder{vec: []float64{1, 0}}, DefaultParams())
	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)

	// Every core record present, contextual capped at 10.
	require.Len(t, out, 12+10)
	for i := 0; i < 12; i++ {
		assert.Equal(t, fmt.Sprintf("core-%02d", i), out[i].Key)
	}

	// Equal contextual scores keep store order (stable tie-break).
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("ctx-%02d", i), out[12+i].Key)
	}
}

func TestRetrieveRanksByScore(t *testing.T) {
	st := &fakeStore{now: testNow}
	// Insertion order is worst-first; retrieval must rank best-first.
	st.records = append(st.records,
		rec("a1", "old-weak", memory.CategoryGeneral, []float64{0.4, 0.9165151389911680}, testNow.Add(-60*day)),
		rec("a1", "fresh-strong", memory.CategoryGeneral, []float64{1, 0}, testNow),
		rec("a1", "fresh-medium", memory.CategoryGeneral, []float64{0.7, 0.7141428428542850}, testNow),
	)
	// Pad above the bulk threshold with low scorers.
	for i := 0; i < 30; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("noise-%02d", i), memory.CategoryGeneral, []float64{0, 1}, testNow.Add(-365*day)))
	}

	e := newTestEngine(st, &staticEmbedder{vec: []float64{1, 0}}, DefaultParams())
	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(out), 2)
	assert.Equal(t, "fresh-strong", out[0].Key)
	assert.Equal(t, "fresh-medium", out[1].Key)
}

func TestRetrieveEmptyContextualSkipsEmbedding(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 31; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("core-%02d", i), memory.CategoryInstruction, nil, testNow))
	}

	emb := &staticEmbedder{vec: []float64{1, 0}}
	e := newTestEngine(st, emb, DefaultParams())

	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)
	assert.Len(t, out, 31)
	assert.Zero(t, emb.calls, "no contextual records means no embedding call")
}

func TestRetrieveNoEmbeddingDefaultScore(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 31; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("bare-%02d", i), memory.CategoryHistory, nil, testNow))
	}

	e := newTestEngine(st, &staticEmbedder{vec: []float64{1, 0}}, DefaultParams())
	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)

	// Default semantic 0.5, fresh recency: composite 0.65 ≥ 0.3, so the cap
	// is the only limit.
	assert.Len(t, out, 10)
}

func TestRetrieveDuplicateKeyCoreWins(t *testing.T) {
	st := &fakeStore{now: testNow}
	st.records = append(st.records,
		rec("a1", "shared", memory.CategoryInstruction, nil, testNow))
	st.records = append(st.records,
		rec("a1", "shared", memory.CategoryGeneral, []float64{1, 0}, testNow))
	for i := 0; i < 30; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("ctx-%02d", i), memory.CategoryGeneral, []float64{1, 0}, testNow))
	}

	e := newTestEngine(st, &staticEmbedder{vec: []float64{1, 0}}, DefaultParams())
	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)

	occurrences := 0
	for _, entry := range out {
		if entry.Key == "shared" {
			occurrences++
			assert.Equal(t, memory.CategoryInstruction, entry.Category, "core occurrence wins")
		}
	}
	assert.Equal(t, 1, occurrences)
}

func TestRetrieveNoDuplicateKeys(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 40; i++ {
		cat := memory.CategoryGeneral
		if i%4 == 0 {
			cat = memory.CategoryPreference
		}
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("mem-%02d", i), cat, []float64{1, 0}, testNow))
	}

	e := newTestEngine(st, &staticEmbedder{vec: []float64{1, 0}}, DefaultParams())
	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, entry := range out {
		require.False(t, seen[entry.Key], "duplicate key %s", entry.Key)
		seen[entry.Key] = true
	}
}

func TestRetrieveExpiredExcluded(t *testing.T) {
	st := &fakeStore{now: testNow}
	past := testNow.Add(-time.Minute)

	// 31 live + 5 expired: expired records must not push the agent over the
	// threshold logic differently, and must never appear.
	for i := 0; i < 28; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("live-%02d", i), memory.CategoryGeneral, nil, testNow))
	}
	for i := 0; i < 5; i++ {
		expired := rec("a1", fmt.Sprintf("dead-%02d", i), memory.CategoryGeneral, nil, testNow)
		expired.ExpiresAt = &past
		st.records = append(st.records, expired)
	}

	emb := &staticEmbedder{vec: []float64{1, 0}}
	e := newTestEngine(st, emb, DefaultParams())

	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)

	// 28 live ≤ 30: bulk path despite 33 physical rows.
	assert.Len(t, out, 28)
	assert.Zero(t, emb.calls)
	for _, entry := range out {
		assert.NotContains(t, entry.Key, "dead-")
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 45; i++ {
		cat := memory.CategoryGeneral
		if i < 4 {
			cat = memory.CategoryInstruction
		}
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("mem-%02d", i), cat, []float64{1, float64(i) / 100}, testNow.Add(-time.Duration(i)*day)))
	}

	e := newTestEngine(st, &staticEmbedder{vec: []float64{1, 0}}, DefaultParams())

	first, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Retrieve(context.Background(), "a1", "query")
		require.NoError(t, err)
		assert.Equal(t, first, again, "identical snapshot must yield identical output")
	}
}

func TestRetrieveStoreFailure(t *testing.T) {
	st := &fakeStore{countErr: errors.New("connection refused")}
	e := newTestEngine(st, &staticEmbedder{vec: []float64{1, 0}}, DefaultParams())

	_, err := e.Retrieve(context.Background(), "a1", "query")
	require.Error(t, err)

	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "store", depErr.Dependency)
}

// Scenario: the embedding provider fails for a 40-record agent. The whole call
// fails — no silent core-only result under the default policy.
func TestRetrieveEmbedderFailure(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 40; i++ {
		cat := memory.CategoryGeneral
		if i < 5 {
			cat = memory.CategoryInstruction
		}
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("mem-%02d", i), cat, []float64{1, 0}, testNow))
	}

	emb := &staticEmbedder{err: errors.New("provider timeout")}
	e := newTestEngine(st, emb, DefaultParams())

	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.Error(t, err)
	assert.Nil(t, out)

	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "embedder", depErr.Dependency)
}

func TestRetrieveEmbedderFailureCoreOnlyPolicy(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 40; i++ {
		cat := memory.CategoryGeneral
		if i < 5 {
			cat = memory.CategoryInstruction
		}
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("mem-%02d", i), cat, []float64{1, 0}, testNow))
	}

	params := DefaultParams()
	params.CoreOnlyOnEmbedderError = true
	e := New(st, &staticEmbedder{err: errors.New("provider timeout")}, params,
		WithClock(func() time.Time { return testNow }))

	out, err := e.Retrieve(context.Background(), "a1", "query")
	require.NoError(t, err)
	require.Len(t, out, 5)
	for _, entry := range out {
		g, ok := entry.Category.Group()
		require.True(t, ok)
		assert.Equal(t, memory.GroupCore, g)
	}
}

func TestRetrieveNilEmbedder(t *testing.T) {
	st := &fakeStore{now: testNow}
	for i := 0; i < 40; i++ {
		st.records = append(st.records,
			rec("a1", fmt.Sprintf("mem-%02d", i), memory.CategoryGeneral, nil, testNow))
	}

	e := newTestEngine(st, nil, DefaultParams())
	_, err := e.Retrieve(context.Background(), "a1", "query")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEmbedder)

	var depErr *DependencyError
	assert.ErrorAs(t, err, &depErr)
}

func TestRetrieveAgentIsolation(t *testing.T) {
	st := &fakeStore{now: testNow}
	st.records = append(st.records,
		rec("a1", "mine", memory.CategoryGeneral, nil, testNow),
		rec("a2", "theirs", memory.CategoryGeneral, nil, testNow))

	e := newTestEngine(st, nil, DefaultParams())
	out, err := e.Retrieve(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, keys(out))
}

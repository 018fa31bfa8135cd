package database_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/vrt/internal/database"
)

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "cache", database.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAnalysisCacheRoundTrip(t *testing.T) {
	db := openDB(t)
	now := time.Now()

	require.NoError(t, db.SaveAnalysis(database.AnalysisRecord{Key: "a:b", ResultJSON: `{"v":1}`, CreatedAt: now}))
	require.NoError(t, db.SaveAnalysis(database.AnalysisRecord{Key: "a:b", ResultJSON: `{"v":2}`, CreatedAt: now}))
	require.NoError(t, db.SaveAnalysis(database.AnalysisRecord{Key: "old", ResultJSON: `{}`, CreatedAt: now.Add(-48 * time.Hour)}))

	records, err := db.LoadAnalyses(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a:b", records[0].Key)
	assert.Equal(t, `{"v":2}`, records[0].ResultJSON)

	pruned, err := db.PruneAnalyses(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)
}

func TestUsageTotals(t *testing.T) {
	db := openDB(t)

	calls := []database.LLMCall{
		{Operation: "analyze", Provider: "openai", Model: "gpt-4o", PromptTokens: 1000, CompletionTokens: 200, Cost: 0.01},
		{Operation: "suggest", Provider: "openai", Model: "gpt-4o", PromptTokens: 500, CompletionTokens: 100, Cost: 0.005},
		{Operation: "analyze", Provider: "anthropic", Model: "claude-3-5-sonnet", PromptTokens: 800, CompletionTokens: 50, Cost: 0.003},
	}
	for _, c := range calls {
		_, err := db.RecordLLMCall(c)
		require.NoError(t, err)
	}

	totals, err := db.UsageTotals(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 2)

	assert.Equal(t, "openai", totals[0].Provider)
	assert.Equal(t, 2, totals[0].Calls)
	assert.EqualValues(t, 1500, totals[0].PromptTokens)
	assert.InDelta(t, 0.015, totals[0].Cost, 1e-9)
	assert.Equal(t, "anthropic", totals[1].Provider)

	future, err := db.UsageTotals(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, future)
}

package main

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(prompts ...Prompt) *PromptCatalog {
	categories := make(map[string]Category)
	for _, p := range prompts {
		categories[p.Category] = Category{Name: p.Category}
	}
	return &PromptCatalog{prompts: prompts, categories: categories}
}

func writePromptFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewPromptCatalogEmbeddedDefault(t *testing.T) {
	catalog := newPromptCatalog(&Config{}, "")

	stats := catalog.Stats()
	assert.Equal(t, 14, stats.TotalPrompts)
	assert.Equal(t, 5, stats.TotalCategories)
	assert.Equal(t, "embedded", stats.Source)

	prompt, ok := catalog.PromptByID("height")
	require.True(t, ok)
	assert.Equal(t, "physical", prompt.Category)
}

func TestNewPromptCatalogDropsInvalidEntries(t *testing.T) {
	path := writePromptFile(t, `{
		"categories": {"a": {"name": "A"}},
		"prompts": [
			{"id": "one", "category": "a", "text": "Rank by one"},
			{"id": "two", "category": "", "text": "Rank by two"},
			{"id": "", "category": "a", "text": "Rank by three"},
			{"id": "four", "category": "a", "text": ""}
		]
	}`)

	catalog := newPromptCatalog(&Config{}, path)

	assert.Equal(t, 1, catalog.Stats().TotalPrompts)
	_, ok := catalog.PromptByID("one")
	assert.True(t, ok)
}

func TestNewPromptCatalogFallsBackOnMissingFile(t *testing.T) {
	catalog := newPromptCatalog(&Config{}, filepath.Join(t.TempDir(), "missing.json"))

	// The fallback set must keep games playable.
	prompts := catalog.Prompts()
	require.GreaterOrEqual(t, len(prompts), 2)

	_, ok := catalog.PromptByID("height")
	assert.True(t, ok)
	_, ok = catalog.PromptByID("fame_likelihood")
	assert.True(t, ok)
}

func TestReloadKeepsPreviousCatalogOnMalformedSource(t *testing.T) {
	path := writePromptFile(t, `{
		"prompts": [{"id": "one", "category": "a", "text": "Rank by one"}]
	}`)
	catalog := newPromptCatalog(&Config{}, path)
	require.Equal(t, 1, catalog.Stats().TotalPrompts)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	assert.Error(t, catalog.Reload())
	assert.Equal(t, 1, catalog.Stats().TotalPrompts)
	_, ok := catalog.PromptByID("one")
	assert.True(t, ok)
}

func TestReloadReplacesCatalog(t *testing.T) {
	path := writePromptFile(t, `{
		"prompts": [{"id": "one", "category": "a", "text": "Rank by one"}]
	}`)
	catalog := newPromptCatalog(&Config{}, path)

	require.NoError(t, os.WriteFile(path, []byte(`{
		"prompts": [
			{"id": "two", "category": "b", "text": "Rank by two"},
			{"id": "three", "category": "b", "text": "Rank by three"}
		]
	}`), 0o644))

	require.NoError(t, catalog.Reload())

	assert.Equal(t, 2, catalog.Stats().TotalPrompts)
	_, ok := catalog.PromptByID("one")
	assert.False(t, ok)
}

func TestSelectForGameZeroRounds(t *testing.T) {
	catalog := testCatalog(Prompt{ID: "p1", Category: "a", Text: "Rank"})
	rng := rand.New(rand.NewSource(1))

	assert.Empty(t, catalog.selectForGame(0, rng))
	assert.Empty(t, catalog.selectForGame(-3, rng))
}

func TestSelectForGameDistinctAndBalanced(t *testing.T) {
	catalog := testCatalog(
		Prompt{ID: "a1", Category: "a", Text: "Rank a1"},
		Prompt{ID: "a2", Category: "a", Text: "Rank a2"},
		Prompt{ID: "a3", Category: "a", Text: "Rank a3"},
		Prompt{ID: "b1", Category: "b", Text: "Rank b1"},
		Prompt{ID: "b2", Category: "b", Text: "Rank b2"},
		Prompt{ID: "b3", Category: "b", Text: "Rank b3"},
	)

	for seed := int64(0); seed < 10; seed++ {
		selected := catalog.selectForGame(6, rand.New(rand.NewSource(seed)))
		require.Len(t, selected, 6)

		ids := make(map[string]bool)
		byCategory := make(map[string]int)
		for _, p := range selected {
			ids[p.ID] = true
			byCategory[p.Category]++
		}

		assert.Len(t, ids, 6, "seed %d: expected distinct prompt ids", seed)
		assert.Equal(t, 3, byCategory["a"], "seed %d", seed)
		assert.Equal(t, 3, byCategory["b"], "seed %d", seed)
	}
}

func TestSelectForGameBalancesUnevenCategories(t *testing.T) {
	catalog := testCatalog(
		Prompt{ID: "p1", Category: "a", Text: "Rank p1"},
		Prompt{ID: "p2", Category: "a", Text: "Rank p2"},
		Prompt{ID: "p3", Category: "b", Text: "Rank p3"},
	)

	// Whatever the first pick, the second must come from the other category.
	for seed := int64(0); seed < 20; seed++ {
		selected := catalog.selectForGame(2, rand.New(rand.NewSource(seed)))
		require.Len(t, selected, 2)
		assert.NotEqual(t, selected[0].Category, selected[1].Category, "seed %d", seed)
	}
}

func TestSelectForGameRepeatsOnlyAfterExhaustion(t *testing.T) {
	catalog := testCatalog(
		Prompt{ID: "p1", Category: "a", Text: "Rank p1"},
		Prompt{ID: "p2", Category: "b", Text: "Rank p2"},
	)

	selected := catalog.selectForGame(5, rand.New(rand.NewSource(1)))
	require.Len(t, selected, 5)

	assert.NotEqual(t, selected[0].ID, selected[1].ID)
}

func TestRandomPromptsRespectsExclusions(t *testing.T) {
	catalog := testCatalog(
		Prompt{ID: "p1", Category: "a", Text: "Rank p1"},
		Prompt{ID: "p2", Category: "a", Text: "Rank p2"},
		Prompt{ID: "p3", Category: "b", Text: "Rank p3"},
	)

	prompts := catalog.randomPrompts(10, []string{"p2"}, rand.New(rand.NewSource(1)))

	assert.Len(t, prompts, 2)
	for _, p := range prompts {
		assert.NotEqual(t, "p2", p.ID)
	}
}

func TestPromptsByCategory(t *testing.T) {
	catalog := testCatalog(
		Prompt{ID: "p1", Category: "a", Text: "Rank p1"},
		Prompt{ID: "p2", Category: "b", Text: "Rank p2"},
		Prompt{ID: "p3", Category: "a", Text: "Rank p3"},
	)

	matches := catalog.PromptsByCategory("a")

	require.Len(t, matches, 2)
	assert.Equal(t, "p1", matches[0].ID)
	assert.Equal(t, "p3", matches[1].ID)
	assert.Empty(t, catalog.PromptsByCategory("missing"))
}

package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"sync"
)

// Prompt is one categorized ranking question, presented once per round.
type Prompt struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
}

// Category holds display metadata for a prompt category.
type Category struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type promptFile struct {
	Prompts    []Prompt            `json:"prompts"`
	Categories map[string]Category `json:"categories"`
}

//go:embed data/prompts.json
var defaultPromptData []byte

// PromptCatalog is the loaded prompt collection. Reload replaces the whole
// set atomically; readers always see either the old catalog or the new one,
// never a half-updated mix.
type PromptCatalog struct {
	mu         sync.RWMutex
	source     string // file path, or "" for the embedded default
	prompts    []Prompt
	categories map[string]Category
}

// newPromptCatalog loads the catalog from source (the embedded default when
// source is empty). A failed load is reported through logf and masked by a
// minimal built-in fallback set, so games stay playable.
func newPromptCatalog(cfg *Config, source string) *PromptCatalog {
	c := &PromptCatalog{source: source}

	if err := c.Reload(); err != nil {
		logf(cfg, "PROMPTS: Load failed (%v), using fallback prompts", err)
		c.loadFallback()
	}

	return c
}

// Reload re-reads the source and swaps the in-memory catalog. On any
// failure the previous catalog is kept and the error returned.
func (c *PromptCatalog) Reload() error {
	data := defaultPromptData
	if c.source != "" {
		var err error
		data, err = os.ReadFile(c.source)
		if err != nil {
			return err
		}
	}

	var parsed promptFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	prompts := make([]Prompt, 0, len(parsed.Prompts))
	for _, p := range parsed.Prompts {
		if p.ID == "" || p.Text == "" || p.Category == "" {
			continue
		}
		prompts = append(prompts, p)
	}
	if len(prompts) == 0 {
		return errors.New("prompt catalog contains no valid prompts")
	}

	categories := make(map[string]Category, len(parsed.Categories))
	for name, category := range parsed.Categories {
		categories[name] = category
	}
	for _, p := range prompts {
		if _, ok := categories[p.Category]; !ok {
			categories[p.Category] = Category{Name: p.Category}
		}
	}

	c.mu.Lock()
	c.prompts = prompts
	c.categories = categories
	c.mu.Unlock()

	return nil
}

func (c *PromptCatalog) loadFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prompts = []Prompt{
		{
			ID:          "height",
			Category:    "physical",
			Text:        "Rank players by height (tallest to shortest)",
			Description: "Order players from tallest to shortest based on their physical height",
		},
		{
			ID:          "fame_likelihood",
			Category:    "future",
			Text:        "Rank players by how likely they are to become famous",
			Description: "Who is most likely to achieve fame or celebrity status?",
		},
	}
	c.categories = map[string]Category{
		"physical": {Name: "Physical"},
		"future":   {Name: "Future"},
	}
}

// Prompts returns a copy of every loaded prompt.
func (c *PromptCatalog) Prompts() []Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]Prompt(nil), c.prompts...)
}

// PromptsByCategory returns every prompt in the given category.
func (c *PromptCatalog) PromptsByCategory(category string) []Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]Prompt, 0, len(c.prompts))
	for _, p := range c.prompts {
		if p.Category == category {
			matches = append(matches, p)
		}
	}
	return matches
}

// PromptByID returns the prompt with the given id, if any.
func (c *PromptCatalog) PromptByID(id string) (Prompt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.prompts {
		if p.ID == id {
			return p, true
		}
	}
	return Prompt{}, false
}

// Categories returns a copy of the category registry.
func (c *PromptCatalog) Categories() map[string]Category {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Category, len(c.categories))
	for name, category := range c.categories {
		out[name] = category
	}
	return out
}

// CatalogStats summarizes the loaded collection.
type CatalogStats struct {
	TotalPrompts      int            `json:"totalPrompts"`
	TotalCategories   int            `json:"totalCategories"`
	PromptsByCategory map[string]int `json:"promptsByCategory"`
	Source            string         `json:"source"`
}

func (c *PromptCatalog) Stats() CatalogStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byCategory := make(map[string]int, len(c.categories))
	for name := range c.categories {
		byCategory[name] = 0
	}
	for _, p := range c.prompts {
		byCategory[p.Category]++
	}

	source := c.source
	if source == "" {
		source = "embedded"
	}

	return CatalogStats{
		TotalPrompts:      len(c.prompts),
		TotalCategories:   len(c.categories),
		PromptsByCategory: byCategory,
		Source:            source,
	}
}

// randomPrompts returns up to count prompts chosen uniformly at random,
// skipping any whose id appears in exclude.
func (c *PromptCatalog) randomPrompts(count int, exclude []string, rng *rand.Rand) []Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	available := make([]Prompt, 0, len(c.prompts))
	for _, p := range c.prompts {
		if !excluded[p.ID] {
			available = append(available, p)
		}
	}

	rng.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})

	return available[:min(count, len(available))]
}

// selectForGame returns roundCount prompts balanced across categories and
// free of repeats until the catalog is exhausted. Each slot draws uniformly
// at random from the unused prompts of the least-used categories; only when
// roundCount exceeds the catalog size do repeats appear.
func (c *PromptCatalog) selectForGame(roundCount int, rng *rand.Rand) []Prompt {
	if roundCount <= 0 {
		return nil
	}

	c.mu.RLock()
	prompts := append([]Prompt(nil), c.prompts...)
	usage := make(map[string]int, len(c.categories))
	for name := range c.categories {
		usage[name] = 0
	}
	c.mu.RUnlock()

	if len(prompts) == 0 {
		return nil
	}

	selected := make([]Prompt, 0, roundCount)
	used := make(map[string]bool, len(prompts))

	for range roundCount {
		if len(used) >= len(prompts) {
			// Every prompt has been used at least once; repeats allowed.
			selected = append(selected, prompts[rng.Intn(len(prompts))])
			continue
		}

		pick, ok := pickFromCategories(prompts, leastUsedCategories(usage), used, rng)
		if !ok {
			// Least-used categories have nothing left; take any unused prompt.
			for _, p := range prompts {
				if !used[p.ID] {
					pick = p
					break
				}
			}
		}

		selected = append(selected, pick)
		used[pick.ID] = true
		usage[pick.Category]++
	}

	return selected
}

func leastUsedCategories(usage map[string]int) map[string]bool {
	minUsage := -1
	for _, count := range usage {
		if minUsage == -1 || count < minUsage {
			minUsage = count
		}
	}

	least := make(map[string]bool, len(usage))
	for category, count := range usage {
		if count == minUsage {
			least[category] = true
		}
	}
	return least
}

func pickFromCategories(prompts []Prompt, categories map[string]bool, used map[string]bool, rng *rand.Rand) (Prompt, bool) {
	candidates := make([]Prompt, 0, len(prompts))
	for _, p := range prompts {
		if categories[p.Category] && !used[p.ID] {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		return Prompt{}, false
	}
	return candidates[rng.Intn(len(candidates))], true
}

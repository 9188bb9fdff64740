package mitre

import (
	"context"
	"sort"
	"strings"
	"sync"

	"socflow/internal/embedding"
	"socflow/internal/logging"
	"socflow/internal/state"
)

// SearchThreshold is the minimum similarity for a corpus hit to count.
const SearchThreshold = 0.15

// SearchK is how many corpus candidates similarity search considers.
const SearchK = 5

// Classifier maps alert text to technique classifications. With an embedding
// engine it ranks the corpus by similarity; without one it falls back to
// keyword scoring and finally to fixed per-alert-type defaults.
type Classifier struct {
	engine embedding.EmbeddingEngine
	corpus []Technique

	mu      sync.Mutex
	vectors [][]float32 // lazily embedded corpus, index-aligned
}

// NewClassifier creates a classifier over the built-in corpus. engine may be
// nil.
func NewClassifier(engine embedding.EmbeddingEngine) *Classifier {
	return &Classifier{engine: engine, corpus: Corpus}
}

// Classify returns technique mappings for the alert, best first. Never
// returns an empty slice: when neither similarity nor keyword search clears
// the threshold, the per-type default applies.
func (c *Classifier) Classify(ctx context.Context, alertText, alertType string) []state.MitreMapping {
	if mappings := c.classifySimilarity(ctx, alertText); len(mappings) > 0 {
		return mappings
	}
	if mappings := c.classifyKeyword(alertText); len(mappings) > 0 {
		return mappings
	}
	return TypeFallback(alertType)
}

func (c *Classifier) classifySimilarity(ctx context.Context, alertText string) []state.MitreMapping {
	if c.engine == nil || strings.TrimSpace(alertText) == "" {
		return nil
	}

	vectors, err := c.corpusVectors(ctx)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("mitre: corpus embedding failed: %v", err)
		return nil
	}

	queryVec, err := c.engine.Embed(ctx, alertText)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("mitre: query embedding failed: %v", err)
		return nil
	}

	results, err := embedding.FindTopK(queryVec, vectors, SearchK)
	if err != nil {
		return nil
	}

	var mappings []state.MitreMapping
	for _, r := range results {
		if r.Similarity < SearchThreshold {
			continue
		}
		t := c.corpus[r.Index]
		mappings = append(mappings, state.MitreMapping{
			TechniqueID: t.ID,
			Name:        t.Name,
			Tactic:      t.Tactic,
			Confidence:  r.Similarity,
		})
	}
	return mappings
}

// classifyKeyword scores each technique by the share of its name tokens
// appearing in the alert text.
func (c *Classifier) classifyKeyword(alertText string) []state.MitreMapping {
	text := strings.ToLower(alertText)
	if text == "" {
		return nil
	}

	var mappings []state.MitreMapping
	for _, t := range c.corpus {
		tokens := strings.Fields(strings.ToLower(t.Name))
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := float64(hits) / float64(len(tokens))
		if confidence < SearchThreshold {
			continue
		}
		mappings = append(mappings, state.MitreMapping{
			TechniqueID: t.ID,
			Name:        t.Name,
			Tactic:      t.Tactic,
			Confidence:  confidence,
		})
	}

	// Best first, stable for equal confidence.
	sort.SliceStable(mappings, func(i, j int) bool {
		return mappings[i].Confidence > mappings[j].Confidence
	})
	if len(mappings) > SearchK {
		mappings = mappings[:SearchK]
	}
	return mappings
}

// corpusVectors embeds the corpus once and caches it.
func (c *Classifier) corpusVectors(ctx context.Context) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vectors != nil {
		return c.vectors, nil
	}

	texts := make([]string, len(c.corpus))
	for i, t := range c.corpus {
		texts[i] = t.Document()
	}
	vectors, err := c.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	c.vectors = vectors
	return vectors, nil
}

// TypeFallback returns the fixed mapping for an alert type when search finds
// nothing. Unknown types get a generic low-confidence valid-accounts mapping.
func TypeFallback(alertType string) []state.MitreMapping {
	t := strings.ToLower(alertType)
	switch {
	case strings.Contains(t, "phish"):
		return []state.MitreMapping{{
			TechniqueID: "T1566.001", Name: "Spearphishing Attachment",
			Tactic: "initial-access", Confidence: 0.85,
		}}
	case strings.Contains(t, "brute"):
		return []state.MitreMapping{{
			TechniqueID: "T1110.001", Name: "Password Guessing",
			Tactic: "credential-access", Confidence: 0.75,
		}}
	case strings.Contains(t, "malware"), strings.Contains(t, "ransom"):
		return []state.MitreMapping{{
			TechniqueID: "T1071.001", Name: "Web Protocols",
			Tactic: "command-and-control", Confidence: 0.95,
		}}
	default:
		return []state.MitreMapping{{
			TechniqueID: "T1078", Name: "Valid Accounts",
			Tactic: "defense-evasion", Confidence: 0.60,
		}}
	}
}

// StageFor returns the attack stage for the best mapping.
func StageFor(mappings []state.MitreMapping) string {
	if len(mappings) == 0 {
		return "Unknown"
	}
	if stage, ok := TacticStage[mappings[0].Tactic]; ok {
		return stage
	}
	return "Unknown"
}

// CategoryFor returns the threat category for the best mapping.
func CategoryFor(mappings []state.MitreMapping) string {
	if len(mappings) == 0 {
		return "Unknown Threat"
	}
	if cat, ok := TacticCategory[mappings[0].Tactic]; ok {
		return cat
	}
	return "Unknown Threat"
}

package memory

import (
	"github.com/astroline/destinyai/internal/models"
	"github.com/astroline/destinyai/internal/vectorstore"
	"github.com/astroline/destinyai/pkg/tokenizer"
)

// ContextBudget decides how much retrieved text and conversation history go
// into a question prompt. The remainder of maxTokens is left for the
// template, the question and the answer.
type ContextBudget struct {
	maxTokens       int
	historyBudget   float64 // fraction for conversation history
	retrievalBudget float64 // fraction for report passages
}

func NewContextBudget(maxTokens int) *ContextBudget {
	return &ContextBudget{
		maxTokens:       maxTokens,
		historyBudget:   0.25,
		retrievalBudget: 0.45,
	}
}

// Fitted is the part of the candidate context that fits.
type Fitted struct {
	Results   []vectorstore.SearchResult
	History   []models.Message
	Tokens    int
	Truncated bool
}

// Fit keeps passages in rank order and history newest-first while each stays
// within its share. The best passage is always kept, as is a leading user
// message in history when it fits.
func (b *ContextBudget) Fit(results []vectorstore.SearchResult, history []models.Message) Fitted {
	var f Fitted

	retrieval := int(float64(b.maxTokens) * b.retrievalBudget)
	used := 0
	for i, r := range results {
		n := tokenizer.CountTokens(r.Content)
		if i > 0 && used+n > retrieval {
			f.Truncated = true
			break
		}
		f.Results = append(f.Results, r)
		used += n
	}
	f.Tokens += used

	f.History, used = b.fitHistory(history)
	f.Tokens += used
	if len(f.History) < len(history) {
		f.Truncated = true
	}
	return f
}

func (b *ContextBudget) fitHistory(history []models.Message) ([]models.Message, int) {
	if len(history) == 0 {
		return nil, 0
	}
	budget := int(float64(b.maxTokens) * b.historyBudget)
	used := 0

	anchor := false
	start := 0
	if history[0].Role == models.RoleUser {
		if n := tokenizer.CountTokens(history[0].Content); n <= budget {
			anchor = true
			used = n
			start = 1
		}
	}

	first := len(history)
	for i := len(history) - 1; i >= start; i-- {
		n := tokenizer.CountTokens(history[i].Content)
		if used+n > budget {
			break
		}
		used += n
		first = i
	}

	kept := make([]models.Message, 0, len(history)-first+1)
	if anchor {
		kept = append(kept, history[0])
	}
	kept = append(kept, history[first:]...)
	return kept, used
}

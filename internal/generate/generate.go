// Package generate wraps the answer-generation collaborator. The model call
// is opaque to the retrieval core: prompt in, text out, caller-supplied
// timeout honored via context.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Generator is the boundary contract with the answer-generation
// collaborator. Implementations must respect ctx cancellation so the
// orchestrator's generation timeout holds.
type Generator interface {
	// Generate produces an answer to query grounded in contextText.
	Generate(ctx context.Context, query, contextText string) (string, error)
}

// answerPrompt grounds the model in the retrieved passages and nothing else.
const answerPrompt = `Answer the question using only the context below.
If the context does not contain the answer, say so plainly.

Context:
%s

Question: %s

Answer:`

// Genkit is the Genkit-backed Generator.
type Genkit struct {
	g     *genkit.Genkit
	model string
}

// NewGenkit creates a Generator calling the given provider-qualified model
// (e.g. "googleai/gemini-2.5-flash").
func NewGenkit(g *genkit.Genkit, model string) *Genkit {
	return &Genkit{g: g, model: model}
}

// Generate runs one model call with the assembled context.
func (gk *Genkit) Generate(ctx context.Context, query, contextText string) (string, error) {
	resp, err := genkit.Generate(ctx, gk.g,
		ai.WithModelName(gk.model),
		ai.WithPrompt(answerPrompt, contextText, query),
	)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("model returned an empty answer")
	}
	return answer, nil
}

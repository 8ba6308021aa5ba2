package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Generator is a scripted answer generator for tests. It satisfies
// generate.Generator.
//
// By default it echoes a deterministic answer derived from the query so
// tests can assert exact cache behavior. Answer pins a fixed reply, Err
// forces failure, and Delay simulates a slow model (context-aware, so
// timeout tests work).
type Generator struct {
	// Answer, when non-empty, is returned verbatim for every call.
	Answer string

	// Err, when set, is returned by every Generate call.
	Err error

	// Delay is slept (context-aware) before each call completes.
	Delay time.Duration

	mu          sync.Mutex
	calls       int
	lastContext string
}

// Generate implements the generator contract.
func (g *Generator) Generate(ctx context.Context, query, contextText string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.lastContext = contextText
	answer := g.Answer
	err := g.Err
	delay := g.Delay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if answer != "" {
		return answer, nil
	}
	return fmt.Sprintf("answer(%s)", query), nil
}

// Calls returns how many Generate calls were made.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// LastContext returns the context text passed to the most recent call.
func (g *Generator) LastContext() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastContext
}

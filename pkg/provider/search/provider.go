// Package search defines the Provider interface for search-grounded
// question answering.
//
// A search provider answers a single query with text grounded in live web
// results and returns the web sources it relied on, so the UI can show them
// as citations next to the answer.
//
// Implementations must be safe for concurrent use.
package search

import "context"

// Source is one web citation of a grounded answer.
type Source struct {
	Title string
	URI   string
}

// Request is one search query.
type Request struct {
	// Query is the user's question.
	Query string

	// SystemInstruction steers tone and language of the answer.
	SystemInstruction string
}

// Result is a grounded answer.
type Result struct {
	// Text is the answer. It may be empty when the model produced nothing
	// usable; callers decide what to show instead.
	Text string

	// Sources lists the web citations in the order the backend returned
	// them. Nil when the answer carries no grounding.
	Sources []Source
}

// Provider answers queries with search grounding.
type Provider interface {
	Search(ctx context.Context, req Request) (*Result, error)
}

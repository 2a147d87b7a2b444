package authserver

import "sync/atomic"

// Metrics captures lightweight in-process counters for observability.
type Metrics struct {
	SignInRequests     atomic.Uint64
	NewUsers           atomic.Uint64
	ResumedUsers       atomic.Uint64
	StatelessSignIns   atomic.Uint64
	RejectedTokens     atomic.Uint64
	AuthenticatedCalls atomic.Uint64
}

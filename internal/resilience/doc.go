// Package resilience groups the circuit breaker and retry subpackages this
// process wraps every outbound collaborator with: LLM providers, feed and
// REST sources, the X CLI, Telegram, and the database.
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.ClaudeAPIConfig())
//	result, err := cb.Execute(func() (interface{}, error) {
//	    return callClaude()
//	})
//
//	err := retry.WithBackoff(ctx, retry.FeedFetchConfig(), func() error {
//	    return fetchFeed()
//	})
package resilience

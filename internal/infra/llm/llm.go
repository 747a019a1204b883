// Package llm adapts the Claude and OpenAI SDKs into the LLMClient
// collaborator consumed by the analysis and snapshot usecases.
package llm

import (
	"context"
	"encoding/json"
)

// Schema describes the JSON shape an LLMClient.Complete call must return,
// passed through to providers that support structured output/tool-call
// enforcement.
type Schema struct {
	Name   string
	Schema json.RawMessage
}

// Client is the external collaborator boundary: a single request/response
// completion call against a hosted LLM.
type Client interface {
	// Complete sends system+user prompts to model and returns the raw text
	// response. When schema is non-nil, implementations should request
	// structured/JSON output matching it where the provider supports that.
	Complete(ctx context.Context, model, system, user string, schema *Schema) (string, error)

	// TokensUsed reports cumulative input/output tokens billed across calls
	// made through this client, for the /tokens command surface.
	TokensUsed() (input, output int64)
}

// Package llm provides the text-generation capability used by the research
// orchestrator. All reasoning steps (node evaluation, reflection, brain
// evaluate/finish) go through a single structured-generation call: the model
// is given a prompt plus a JSON schema and must answer with a conforming
// object. The orchestrator is agnostic to which provider backs the call.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Request describes one structured generation call.
type Request struct {
	// System is the system instruction. Optional.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// Schema is a raw JSON schema the response object must conform to.
	Schema map[string]any
}

// Response carries the raw conforming JSON plus usage accounting.
type Response struct {
	// Raw is the model's JSON object output. Callers unmarshal it into
	// their typed decision struct.
	Raw json.RawMessage

	// Tokens is the total token count for the call (prompt + output),
	// used as the cost proxy for budget accounting. Zero when the
	// provider reports no usage.
	Tokens int
}

// Client is the narrow text-generation interface the orchestrator depends on.
type Client interface {
	GenerateStructured(ctx context.Context, req Request) (Response, error)
}

// ErrEmptyResponse indicates the provider returned no candidates or empty text.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrMaxRetriesExceeded indicates all retry attempts failed.
var ErrMaxRetriesExceeded = errors.New("llm: maximum retries exceeded")

// Decode unmarshals a structured response into out, surfacing parse failures
// with the offending payload prefix for the decision log.
func Decode(resp Response, out any) error {
	if len(resp.Raw) == 0 {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(resp.Raw, out); err != nil {
		preview := string(resp.Raw)
		if len(preview) > 120 {
			preview = preview[:120] + "..."
		}
		return errors.Join(errors.New("llm: malformed structured output: "+preview), err)
	}
	return nil
}

// Package provider defines the vendor-agnostic LLM/TTS provider contract, the
// provider-type registry and the instance manager that owns configured,
// connected provider instances.
//
// Core goals:
//   - Unify streaming + non-streaming chat behind one interface
//   - Keep transport failures out of the error return path: request/stream
//     calls report network failures in-band (FinishError / terminal chunk)
//     so the agent loop has a uniform non-throwing failure signal
//   - Allow any OpenAI-protocol vendor to be composed by configuration alone
//     (base URL + key + model), no code per vendor
package provider

import "context"

// Kind separates the two capability families an instance can provide.
type Kind string

// Instance kinds.
const (
	KindLLM    Kind = "llm"
	KindSpeech Kind = "speech"
)

// Lifecycle is the connection management surface shared by all provider
// kinds. Initialize and Terminate are idempotent; Terminate must release any
// held HTTP or socket resources.
type Lifecycle interface {
	Initialize(ctx context.Context) error
	Terminate() error
}

// Provider is the chat capability contract the agent loop depends on.
//
// Error semantics: Chat and ChatStream return a non-nil error only for
// programming errors (invalid request shape). HTTP/transport/vendor failures
// are reported in-band: Chat returns a Response with FinishReason ==
// FinishError and human-readable Text; ChatStream emits a terminal chunk
// (Done == true) whose Err field carries the failure text. Models and Test
// use ordinary error returns.
type Provider interface {
	Lifecycle

	// Chat performs a single request/response round trip.
	Chat(ctx context.Context, req Request) (Response, error)

	// ChatStream invokes onChunk zero or more times with partial chunks and
	// then exactly once with a terminal chunk (Done == true). Chunks are
	// delivered in emission order from the caller's goroutine.
	ChatStream(ctx context.Context, req Request, onChunk func(StreamChunk)) error

	// Models lists the models available at the configured endpoint.
	Models(ctx context.Context) ([]ModelInfo, error)

	// Test performs a cheap connectivity/auth probe.
	Test(ctx context.Context) error
}

// SpeechProvider synthesizes audio from text. Synthesis failures are
// non-fatal to a conversation turn; callers log and continue.
type SpeechProvider interface {
	Lifecycle

	// Synthesize returns encoded audio for the given text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

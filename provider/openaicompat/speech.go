package openaicompat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lumipet/lumipet/provider"
)

// SpeechTypeID is the provider-type id of the speech adapter.
const SpeechTypeID = "openai-compatible-tts"

// SpeechRegistration returns the registry entry for the speech adapter.
func SpeechRegistration() provider.Registration {
	return provider.Registration{
		Metadata: provider.Metadata{
			ID:          SpeechTypeID,
			DisplayName: "OpenAI Compatible TTS",
			Kind:        provider.KindSpeech,
			Fields: []provider.FieldSpec{
				{Key: "base_url", Label: "Base URL", Type: provider.FieldString},
				{Key: "api_key", Label: "API Key", Type: provider.FieldSecret, Required: true},
				{Key: "model", Label: "Model", Type: provider.FieldString, Default: "tts-1"},
				{Key: "voice", Label: "Voice", Type: provider.FieldSelect, Default: "alloy",
					Options: []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}},
				{Key: "timeout_seconds", Label: "Request Timeout (s)", Type: provider.FieldNumber, Default: 60},
			},
		},
		SpeechFactory: func(cfg provider.InstanceConfig) (provider.SpeechProvider, error) {
			return NewSpeech(cfg)
		},
	}
}

// Speech synthesizes audio through the OpenAI speech endpoint (or any
// protocol-compatible server exposing /audio/speech).
type Speech struct {
	client     openai.Client
	httpClient *http.Client
	model      string
	voice      string
}

// NewSpeech builds a Speech provider from an instance configuration.
func NewSpeech(cfg provider.InstanceConfig) (*Speech, error) {
	httpClient := &http.Client{Timeout: cfg.Settings.Duration("timeout_seconds", 60*time.Second)}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Settings.String("api_key", "")),
		option.WithHTTPClient(httpClient),
	}
	if baseURL := cfg.Settings.String("base_url", ""); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Speech{
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
		model:      cfg.Settings.String("model", "tts-1"),
		voice:      cfg.Settings.String("voice", "alloy"),
	}, nil
}

// Initialize is a no-op for the speech endpoint; there is no cheap probe that
// does not synthesize audio, so failures surface on first synthesis.
func (s *Speech) Initialize(ctx context.Context) error { return nil }

// Terminate releases pooled HTTP connections. Idempotent.
func (s *Speech) Terminate() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// Synthesize returns encoded audio for the given text.
func (s *Speech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model: s.model,
		Input: text,
		Voice: openai.AudioSpeechNewParamsVoice(s.voice),
	})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: read speech response: %w", err)
	}
	return audio, nil
}

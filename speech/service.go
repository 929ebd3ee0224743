package speech

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/tts-tender/telemetry"
)

// SynthesisError wraps a failure in the synthesis backend or the archive write.
// No partial artifact is left behind when it is returned.
type SynthesisError struct {
	Op  string // "backend" or "archive"
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("synthesis %s: %v", e.Op, e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// Synthesizer converts text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p Persona) ([]byte, error)
}

// Service drives a synthesis backend with the process-wide persona and stores
// results in the bounded archive.
type Service struct {
	Backend Synthesizer
	Archive *Archive
	Persona Persona
	Now     func() time.Time // nil means time.Now
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Speak synthesizes text and archives the result, returning the artifact name.
// Failures surface as *SynthesisError; the archive is untouched when the
// backend fails.
func (s *Service) Speak(ctx context.Context, text, attribution string) (string, error) {
	start := time.Now()
	audio, err := s.Backend.Synthesize(ctx, text, s.Persona)
	if err != nil {
		telemetry.CountSynthesisFailed()
		return "", &SynthesisError{Op: "backend", Err: err}
	}
	name, err := s.Archive.Put(attribution, s.now(), audio)
	if err != nil {
		telemetry.CountSynthesisFailed()
		return "", &SynthesisError{Op: "archive", Err: err}
	}
	if telemetry.SynthesisDuration != nil {
		telemetry.SynthesisDuration.Observe(time.Since(start).Seconds())
	}
	slog.Info("spoke message",
		slog.String("file", name),
		slog.Int("bytes", len(audio)),
		slog.String("voice", s.Persona.VoiceID))
	return name, nil
}

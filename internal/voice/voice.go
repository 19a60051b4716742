// Package voice speaks prompts to the patient and transcribes replies.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"medminder/internal/audio"
)

// Voice is what the reminder dialogue and the pillbox listener talk through.
// Listen returns "" (and no error) when the patient said nothing.
type Voice interface {
	Say(ctx context.Context, text string) error
	Listen(ctx context.Context) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, audio.Format, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

type Player interface {
	Play(ctx context.Context, data []byte, format audio.Format) error
}

type Capturer interface {
	Record(ctx context.Context) (audio.Clip, error)
}

// Assistant is the device voice: network work happens outside the audio
// lock, device work inside it, one operation at a time.
type Assistant struct {
	arbiter     *audio.Arbiter
	synth       Synthesizer
	transcriber Transcriber
	player      Player
	capturer    Capturer
	captureFile string
	log         *slog.Logger
}

type AssistantConfig struct {
	Arbiter     *audio.Arbiter
	Synthesizer Synthesizer
	Transcriber Transcriber
	Player      Player
	Capturer    Capturer
	// CaptureFile, when set, receives a wav copy of the last utterance.
	CaptureFile string
	Logger      *slog.Logger
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assistant{
		arbiter:     cfg.Arbiter,
		synth:       cfg.Synthesizer,
		transcriber: cfg.Transcriber,
		player:      cfg.Player,
		capturer:    cfg.Capturer,
		captureFile: cfg.CaptureFile,
		log:         cfg.Logger,
	}
}

func (a *Assistant) Say(ctx context.Context, text string) error {
	a.log.Info("🔊 assistant", "text", text)

	data, format, err := a.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	return a.arbiter.Do(ctx, "playback", func() error {
		return a.player.Play(ctx, data, format)
	})
}

func (a *Assistant) Listen(ctx context.Context) (string, error) {
	var clip audio.Clip
	err := a.arbiter.Do(ctx, "capture", func() error {
		var err error
		clip, err = a.capturer.Record(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("capture: %w", err)
	}
	if clip.Empty() {
		a.log.Debug("🎤 no speech detected")
		return "", nil
	}

	if a.captureFile != "" {
		if err := clip.WriteWAV(a.captureFile); err != nil {
			a.log.Warn("⚠️ could not save capture", "file", a.captureFile, "err", err)
		}
	}

	text, err := a.transcriber.Transcribe(ctx, clip)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	a.log.Info("🎤 patient", "text", text, "duration", clip.Duration())
	return text, nil
}

package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/speech/v1"
	"google.golang.org/api/texttospeech/v1"

	"medminder/internal/audio"
)

// GoogleSpeech uses Cloud Speech-to-Text and Text-to-Speech.
type GoogleSpeech struct {
	stt          *speech.Service
	tts          *texttospeech.Service
	languageCode string
	format       audio.Format
}

type GoogleConfig struct {
	CredentialsPath string
	LanguageCode    string
	// Format is the synthesized audio container; mp3 keeps payloads small.
	Format audio.Format
}

func NewGoogleSpeech(ctx context.Context, cfg GoogleConfig, opts ...option.ClientOption) (*GoogleSpeech, error) {
	if cfg.CredentialsPath != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(cfg.CredentialsPath)}, opts...)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.Format == "" {
		cfg.Format = audio.FormatMP3
	}

	stt, err := speech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing speech client: %w", err)
	}
	tts, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing text-to-speech client: %w", err)
	}

	return &GoogleSpeech{
		stt:          stt,
		tts:          tts,
		languageCode: cfg.LanguageCode,
		format:       cfg.Format,
	}, nil
}

func (g *GoogleSpeech) Synthesize(ctx context.Context, text string) ([]byte, audio.Format, error) {
	encoding := "MP3"
	if g.format == audio.FormatWAV {
		encoding = "LINEAR16"
	}

	resp, err := g.tts.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.languageCode,
			SsmlGender:   "FEMALE",
		},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: encoding},
	}).Context(ctx).Do()
	if err != nil {
		return nil, "", fmt.Errorf("text-to-speech request: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, "", fmt.Errorf("decode audio content: %w", err)
	}
	return data, g.format, nil
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	resp, err := g.stt.Speech.Recognize(&speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: int64(clip.SampleRate),
			LanguageCode:    g.languageCode,
		},
		Audio: &speech.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(clip.Bytes()),
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("speech request: %w", err)
	}

	var parts []string
	for _, r := range resp.Results {
		if len(r.Alternatives) > 0 && r.Alternatives[0].Transcript != "" {
			parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		}
	}
	return strings.Join(parts, " "), nil
}

// Package device drives the microphone and speaker.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"medminder/internal/audio"
)

type RecorderConfig struct {
	SampleRate       int
	SilenceThreshold float64 // RMS in [0,1]
	SilenceDuration  time.Duration
	MaxDuration      time.Duration
}

// Recorder captures one utterance from the default input device.
type Recorder struct {
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = 0.015
	}
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = 2 * time.Second
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = 10 * time.Second
	}
	return &Recorder{cfg: cfg}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Record starts capturing, waits for speech, and stops after SilenceDuration
// of quiet or MaxDuration overall. A clip with no speech is empty.
func (r *Recorder) Record(ctx context.Context) (audio.Clip, error) {
	frameSize := r.cfg.SampleRate / 50 // 20ms
	frameDur := 20 * time.Millisecond

	buf := make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.cfg.SampleRate), len(buf), buf)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return audio.Clip{}, fmt.Errorf("start input stream: %w", err)
	}
	defer stream.Stop()

	var (
		speaking bool
		silent   time.Duration
		out      = make([]int16, 0, r.cfg.SampleRate*3)
	)
	maxFrames := int(r.cfg.MaxDuration / frameDur)

	for i := 0; i < maxFrames; i++ {
		if err := ctx.Err(); err != nil {
			return audio.Clip{}, err
		}
		if err := stream.Read(); err != nil {
			return audio.Clip{}, fmt.Errorf("read input stream: %w", err)
		}

		if audio.FrameRMS(buf) > r.cfg.SilenceThreshold {
			speaking = true
			silent = 0
			out = append(out, buf...)
			continue
		}
		if speaking {
			out = append(out, buf...)
			silent += frameDur
			if silent >= r.cfg.SilenceDuration {
				break
			}
		}
	}

	if !speaking {
		return audio.Clip{SampleRate: r.cfg.SampleRate}, nil
	}
	return audio.Clip{Samples: out, SampleRate: r.cfg.SampleRate}, nil
}


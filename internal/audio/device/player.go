package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"medminder/internal/audio"
)

// Player plays synthesized speech through the default output device.
type Player struct {
	mu   sync.Mutex
	rate beep.SampleRate
}

func NewPlayer() *Player { return &Player{} }

// Play decodes data and blocks until playback finishes or ctx ends.
func (p *Player) Play(ctx context.Context, data []byte, format audio.Format) error {
	streamer, fmtInfo, err := decode(data, format)
	if err != nil {
		return err
	}
	defer streamer.Close()

	if err := p.init(fmtInfo.SampleRate); err != nil {
		return err
	}

	var src beep.Streamer = streamer
	if fmtInfo.SampleRate != p.rate {
		src = beep.Resample(4, fmtInfo.SampleRate, p.rate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(src, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// init opens the speaker once, at the rate of the first clip.
func (p *Player) init(rate beep.SampleRate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rate != 0 {
		return nil
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	p.rate = rate
	return nil
}

func decode(data []byte, format audio.Format) (beep.StreamSeekCloser, beep.Format, error) {
	rc := io.NopCloser(bytes.NewReader(data))
	switch format {
	case audio.FormatMP3:
		s, f, err := mp3.Decode(rc)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
		}
		return s, f, nil
	case audio.FormatWAV, "":
		s, f, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
		}
		return s, f, nil
	}
	return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", format)
}

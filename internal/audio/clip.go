package audio

import (
	"fmt"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format names an encoded audio container.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// Clip is mono 16-bit PCM.
type Clip struct {
	Samples    []int16
	SampleRate int
}

func (c Clip) Empty() bool { return len(c.Samples) == 0 }

func (c Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Bytes returns little-endian LINEAR16, the layout speech APIs expect.
func (c Clip) Bytes() []byte {
	out := make([]byte, 2*len(c.Samples))
	for i, s := range c.Samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// WriteWAV stores the clip as a 16-bit mono wav file.
func (c Clip) WriteWAV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, c.SampleRate, 16, 1, 1)
	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// FrameRMS is the normalized RMS level of a frame.
func FrameRMS(f []int16) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		v := float64(x) / 32768.0
		s += v * v
	}
	return math.Sqrt(s / float64(len(f)))
}

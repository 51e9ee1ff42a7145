// Package audio holds synthesized page audio and measures its duration.
package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/h2non/filetype"
	"github.com/hajimehoshi/go-mp3"
)

const (
	FormatMPEG = "audio/mpeg"
	FormatWAV  = "audio/wav"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Asset is one page of encoded audio.
type Asset struct {
	Format string
	Data   []byte
}

// DataURL encodes the asset as a data URL, the form handed to players.
func (a Asset) DataURL() string {
	return "data:" + a.Format + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Empty reports an asset with no playable payload.
func (a Asset) Empty() bool { return len(a.Data) == 0 || a.Format == "" }

// Prober reads duration from audio metadata instead of trusting the producer.
type Prober struct{}

// Duration decodes enough of the asset to compute its playing time. When the
// declared format is not recognised the content is sniffed.
func (Prober) Duration(a Asset) (time.Duration, error) {
	switch Kind(a) {
	case FormatWAV:
		return wavDuration(a.Data)
	case FormatMPEG:
		return mp3Duration(a.Data)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, a.Format)
	}
}

// Kind maps a declared format, or sniffed content, to a canonical MIME type.
func Kind(a Asset) string {
	switch strings.ToLower(strings.TrimSpace(a.Format)) {
	case "audio/mpeg", "audio/mp3", "mp3":
		return FormatMPEG
	case "audio/wav", "audio/x-wav", "audio/wave", "wav":
		return FormatWAV
	}
	switch {
	case filetype.Is(a.Data, "wav"):
		return FormatWAV
	case filetype.Is(a.Data, "mp3"):
		return FormatMPEG
	}
	return ""
}

func wavDuration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav data")
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("locate wav data: %w", err)
	}
	bytesPerSecond := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if bytesPerSecond <= 0 {
		return 0, errors.New("wav header has no sample rate")
	}
	return time.Duration(dec.PCMLen()) * time.Second / time.Duration(bytesPerSecond), nil
}

func mp3Duration(data []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	length := dec.Length()
	if length <= 0 || dec.SampleRate() <= 0 {
		return 0, errors.New("mp3 length unavailable")
	}
	// Decoded output is 16-bit stereo: four bytes per frame.
	frames := length / 4
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate()), nil
}

// Silence encodes a mono 16-bit WAV of the given length.
func Silence(d time.Duration, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	frames := int(int64(d) * int64(sampleRate) / int64(time.Second))
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
	out := &memFile{}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.buf, nil
}

// memFile is an in-memory io.WriteSeeker; the wav encoder seeks back to patch
// chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, errors.New("invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}

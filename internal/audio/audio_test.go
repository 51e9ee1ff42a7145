package audio

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSilenceRoundTrip(t *testing.T) {
	data, err := Silence(2*time.Second, 8000)
	if err != nil {
		t.Fatalf("silence: %v", err)
	}
	got, err := Prober{}.Duration(Asset{Format: FormatWAV, Data: data})
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
}

func TestKindSniffsUndeclaredFormat(t *testing.T) {
	data, err := Silence(500*time.Millisecond, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if got := Kind(Asset{Format: "application/octet-stream", Data: data}); got != FormatWAV {
		t.Fatalf("expected sniffed wav, got %q", got)
	}
	if got := Kind(Asset{Format: "audio/mp3"}); got != FormatMPEG {
		t.Fatalf("expected mpeg alias, got %q", got)
	}
}

func TestDurationUnsupported(t *testing.T) {
	_, err := Prober{}.Duration(Asset{Format: "audio/ogg", Data: []byte("OggS-not-really")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDurationCorruptMPEG(t *testing.T) {
	if _, err := (Prober{}).Duration(Asset{Format: FormatMPEG, Data: []byte("garbage")}); err == nil {
		t.Fatal("expected error for corrupt mp3")
	}
}

func TestDataURL(t *testing.T) {
	a := Asset{Format: FormatMPEG, Data: []byte("abc")}
	if got := a.DataURL(); got != "data:audio/mpeg;base64,YWJj" {
		t.Fatalf("unexpected data url %q", got)
	}
	if !strings.HasPrefix((Asset{Format: FormatWAV}).DataURL(), "data:audio/wav;base64,") {
		t.Fatal("unexpected prefix")
	}
	if !(Asset{Format: FormatWAV}).Empty() {
		t.Fatal("asset without data should be empty")
	}
}

package domain

import (
	"strings"
	"testing"
)

func TestMediaKindValid(t *testing.T) {
	for kind, want := range map[MediaKind]bool{
		KindAudio: true,
		KindVideo: true,
		"smell":   false,
		"":        false,
	} {
		if got := kind.Valid(); got != want {
			t.Errorf("MediaKind(%q).Valid() = %v, want %v", kind, got, want)
		}
	}
}

func TestDefaultSource(t *testing.T) {
	if got := DefaultSource(KindAudio); got != SourceMic {
		t.Errorf("DefaultSource(audio) = %s", got)
	}
	if got := DefaultSource(KindVideo); got != SourceWebcam {
		t.Errorf("DefaultSource(video) = %s", got)
	}
}

func TestProducerSourceValid(t *testing.T) {
	for source, want := range map[ProducerSource]bool{
		SourceMic:    true,
		SourceWebcam: true,
		SourceScreen: true,
		"hologram":   false,
	} {
		if got := source.Valid(); got != want {
			t.Errorf("ProducerSource(%q).Valid() = %v, want %v", source, got, want)
		}
	}
}

func TestCleanDisplayName(t *testing.T) {
	if got := CleanDisplayName(""); got != AnonymousName {
		t.Errorf("empty name = %q", got)
	}
	if got := CleanDisplayName("Alice"); got != "Alice" {
		t.Errorf("plain name = %q", got)
	}
	long := strings.Repeat("x", MaxDisplayNameLen+10)
	if got := CleanDisplayName(long); len(got) != MaxDisplayNameLen {
		t.Errorf("oversized name kept %d bytes", len(got))
	}
}

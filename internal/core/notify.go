package core

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/kvey/Huddle/internal/domain"
)

// NoSpeakerVolume is the sentinel volume sent with a null-speaker event.
const NoSpeakerVolume = -100

// Server-originated notifications. These are the unsolicited frames; direct
// responses live with their handlers in the signal adapter.

type PeerJoinedNotice struct {
	Type        string        `json:"type"`
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
	IsCreator   bool          `json:"isCreator"`
}

type PeerLeftNotice struct {
	Type        string        `json:"type"`
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
}

type NewProducerNotice struct {
	Type        string                `json:"type"`
	ID          domain.ProducerID     `json:"id"`
	PeerID      domain.PeerID         `json:"peerId"`
	Kind        domain.MediaKind      `json:"kind"`
	Source      domain.ProducerSource `json:"source"`
	DisplayName string                `json:"displayName"`
	Muted       bool                  `json:"muted"`
}

type ProducerClosedNotice struct {
	Type       string            `json:"type"`
	PeerID     domain.PeerID     `json:"peerId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type ProducerMutedNotice struct {
	Type       string            `json:"type"`
	PeerID     domain.PeerID     `json:"peerId"`
	ProducerID domain.ProducerID `json:"producerId"`
	Muted      bool              `json:"muted"`
}

// ActiveSpeakerNotice carries a nil PeerID after a silence event.
type ActiveSpeakerNotice struct {
	Type   string         `json:"type"`
	PeerID *domain.PeerID `json:"peerId"`
	Volume int            `json:"volume"`
}

type ChatNotice struct {
	Type        string        `json:"type"`
	Message     string        `json:"message"`
	PeerID      domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
	Timestamp   int64         `json:"timestamp"`
}

func encodeNotice(v any) (Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("notice marshal")
		return nil, false
	}
	return Frame(b), true
}

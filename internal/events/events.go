// Package events defines the wire contracts for bet lifecycle events and a
// Kafka producer for publishing them to downstream consumers.
package events

import (
	"time"

	"github.com/alanyoungcy/coinduel/internal/domain"
)

// Event type names carried in every envelope.
const (
	TypeBetCreated   = "bet_created"
	TypeLegFunded    = "leg_funded"
	TypeBetActivated = "bet_activated"
	TypeBetSettled   = "bet_settled"
	TypeBetWithdrawn = "bet_withdrawn"
)

// BetEvent is the flat JSON payload published for every lifecycle
// transition. Fields that do not apply to a given event type are omitted.
type BetEvent struct {
	Type          string `json:"type"`
	BetID         int64  `json:"bet_id"`
	PartyStable   string `json:"party_stable"`
	PartyVolatile string `json:"party_volatile"`
	Leg           string `json:"leg,omitempty"`
	Caller        string `json:"caller,omitempty"`
	Winner        string `json:"winner,omitempty"`
	Price         int64  `json:"price,omitempty"`
	StartTsUnix   int64  `json:"start_ts_unix,omitempty"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}

// FromBet builds the common fields of an event envelope for the given bet.
func FromBet(eventType string, bet domain.Bet, now time.Time) BetEvent {
	evt := BetEvent{
		Type:          eventType,
		BetID:         bet.ID,
		PartyStable:   bet.PartyStable,
		PartyVolatile: bet.PartyVolatile,
		TsUnixMs:      now.UnixMilli(),
	}
	if bet.Activated() {
		evt.StartTsUnix = bet.StartTimestamp.Unix()
	}
	return evt
}

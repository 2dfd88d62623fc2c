// Package testutil provides fakes and builders shared by slipfuzz tests.
package testutil

import (
	"github.com/goccy/go-json"

	"github.com/slipfuzz/slipfuzz/internal/relay"
)

// TicketJSON builds a get-ticket-resp carrying the given players.
func TicketJSON(players ...relay.Player) []byte {
	return mustMarshal(relay.TicketResponse{Type: relay.TypeGetTicketResp, Players: players})
}

// RejectionJSON builds a create-ticket-resp carrying an error.
func RejectionJSON(msg string) []byte {
	return mustMarshal(relay.TicketResponse{Type: relay.TypeCreateTicketResp, Error: msg})
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

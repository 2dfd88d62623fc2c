// Package relay implements the matchmaking ticket exchange.
package relay

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/goccy/go-json"
)

// Protocol constants.
const (
	TypeCreateTicket     = "create-ticket"
	TypeCreateTicketResp = "create-ticket-resp"
	TypeGetTicketResp    = "get-ticket-resp"

	// SearchModeDirect searches for a specific opponent by connect code.
	SearchModeDirect = 2

	DefaultAddress    = "mm.slippi.gg:43113"
	DefaultAppVersion = "2.3.1"
)

// Errors returned by relay functions.
var (
	ErrMalformedResponse = errors.New("malformed relay response")
	ErrTicketRejected    = errors.New("ticket rejected by relay")
	ErrLocalNotInRoster  = errors.New("local player missing from roster")
	ErrNoOpponent        = errors.New("opponent missing from roster")
	ErrBadAddress        = errors.New("invalid player address")
)

// User identifies the local player to the relay.
type User struct {
	UID     string `json:"uid"`
	PlayKey string `json:"playKey"`
}

// Search describes who to match against.
type Search struct {
	Mode        int   `json:"mode"`
	ConnectCode []int `json:"connectCode"`
}

// TicketRequest asks the relay to match us with an opponent.
type TicketRequest struct {
	Type       string `json:"type"`
	User       User   `json:"user"`
	Search     Search `json:"search"`
	AppVersion string `json:"appVersion"`
}

// Player is one roster entry of a ticket response.
type Player struct {
	UID       string `json:"uid"`
	IPAddress string `json:"ipAddress"`
}

// TicketResponse is any message received from the relay. Players is set on
// get-ticket-resp; Error may be set on create-ticket-resp.
type TicketResponse struct {
	Type    string   `json:"type"`
	Error   string   `json:"error,omitempty"`
	Players []Player `json:"players,omitempty"`
}

// Endpoints are the addresses derived from a ticket.
type Endpoints struct {
	Opponent  string // opponent "ip:port"
	LocalPort uint16 // port to bind the direct socket to
}

// NewTicketRequest builds a direct-search ticket request. The connect code is sent as
// its sequence of code points.
func NewTicketRequest(uid, playKey, connectCode, appVersion string) *TicketRequest {
	if appVersion == "" {
		appVersion = DefaultAppVersion
	}
	code := make([]int, 0, len(connectCode))
	for _, r := range connectCode {
		code = append(code, int(r))
	}
	return &TicketRequest{
		Type:       TypeCreateTicket,
		User:       User{UID: uid, PlayKey: playKey},
		Search:     Search{Mode: SearchModeDirect, ConnectCode: code},
		AppVersion: appVersion,
	}
}

// Marshal encodes the request as JSON.
func (r *TicketRequest) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ticket request: %w", err)
	}
	return data, nil
}

// ParseResponse decodes a relay message.
func ParseResponse(data []byte) (*TicketResponse, error) {
	var resp TicketResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedResponse)
	}
	if resp.Type == TypeCreateTicketResp && resp.Error != "" {
		return &resp, fmt.Errorf("%w: %s", ErrTicketRejected, resp.Error)
	}
	return &resp, nil
}

// IsTicket reports whether the response carries the matched roster.
func (r *TicketResponse) IsTicket() bool {
	return r.Type == TypeGetTicketResp
}

// Endpoints finds the opponent's address and the local bind port in the roster.
func (r *TicketResponse) Endpoints(localUID string) (Endpoints, error) {
	var ep Endpoints
	var haveLocal, haveOpponent bool

	for _, p := range r.Players {
		if p.UID == localUID {
			_, port, err := splitAddress(p.IPAddress)
			if err != nil {
				return Endpoints{}, err
			}
			ep.LocalPort = port
			haveLocal = true
			continue
		}
		if haveOpponent {
			continue
		}
		if _, _, err := splitAddress(p.IPAddress); err != nil {
			return Endpoints{}, err
		}
		ep.Opponent = p.IPAddress
		haveOpponent = true
	}

	if !haveLocal {
		return Endpoints{}, fmt.Errorf("%w: uid %q", ErrLocalNotInRoster, localUID)
	}
	if !haveOpponent {
		return Endpoints{}, ErrNoOpponent
	}
	return ep, nil
}

func splitAddress(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w %q: %v", ErrBadAddress, addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("%w %q: bad port", ErrBadAddress, addr)
	}
	return host, uint16(port), nil
}

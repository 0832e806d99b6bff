package gateway

import (
	"context"

	"github.com/tanvi/sahayak/internal/agent"
)

// Router is the instruction entry point every gateway feeds.
type Router interface {
	Route(ctx context.Context, chatID, instruction string) agent.Response
}

// Messenger defines the interface for communication gateways (Telegram,
// Discord, HTTP, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// format renders a Response for chat surfaces.
func format(resp agent.Response) string {
	if resp.Success || resp.Err == "" {
		return resp.Result
	}
	if resp.Result == "" {
		return "Something went wrong: " + resp.Err
	}
	return resp.Result + "\n\n(" + resp.Err + ")"
}

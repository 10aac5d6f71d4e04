package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

// Command describes one bot command for help output and client menus
type Command struct {
	Intent      models.Intent
	Description string
}

var commands = []Command{
	{Intent: models.IntentHelp, Description: "Display this text."},
	{Intent: models.IntentNew, Description: "Provide a random recipe."},
	{Intent: models.IntentAccept, Description: "Accept the proposed recipe and send the pdf of the recipe."},
	{Intent: models.IntentNext, Description: "Ask for another proposed recipe."},
}

// Commands returns the supported commands in display order.
func Commands() []Command {
	return append([]Command(nil), commands...)
}

func helpText() string {
	var b strings.Builder
	b.WriteString("These commands are supported:")
	for _, c := range commands {
		fmt.Fprintf(&b, "\n/%s - %s", c.Intent, c.Description)
	}
	return b.String()
}

// Handle runs one request to completion.
// The returned error has already been reported to the user.
func (h *Handler) Handle(ctx context.Context, req models.Request) error {
	switch req.Intent {
	case models.IntentHelp:
		return h.messenger.SendText(ctx, req.ChatID, helpText(), models.FormatPlain)
	case models.IntentNew:
		return h.propose(ctx, req, true)
	case models.IntentNext:
		return h.propose(ctx, req, false)
	case models.IntentAccept:
		return h.accept(ctx, req)
	default:
		return fmt.Errorf("unsupported intent %q", req.Intent)
	}
}

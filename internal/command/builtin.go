package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/gateway"
)

// ---------------------------------------------------------------------------
// Interfaces, kept here so builtin commands avoid importing concrete types.
// ---------------------------------------------------------------------------

// Previewer compresses text without sending it.
type Previewer interface {
	Compress(ctx context.Context, text string, strength float64) (compressor.Result, error)
}

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

// RegisterBuiltins registers the conversation commands. status may be nil,
// in which case /status is not offered.
func RegisterBuiltins(reg *Registry, preview Previewer, status StatusProvider) {
	reg.Register(helpCommand(reg))
	reg.Register(resetCommand())
	reg.Register(systemCommand())
	reg.Register(strengthCommand())
	reg.Register(temperatureCommand())
	reg.Register(settingsCommand())
	reg.Register(compressCommand(preview))
	if status != nil {
		reg.Register(statusCommand(status))
	}
}

func noSession() *CommandResult {
	return &CommandResult{Content: "No conversation is bound to this channel."}
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s - %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /reset
// ---------------------------------------------------------------------------

func resetCommand() *Command {
	return &Command{
		Name:        "reset",
		Description: "Clear the conversation, optionally with a new system message",
		Usage:       "/reset [system message]",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if cc.Session == nil {
				return noSession(), nil
			}
			if err := cc.Session.Reset(args); err != nil {
				if errors.Is(err, chat.ErrTurnInProgress) {
					return &CommandResult{Content: "A reply is still streaming. Try again when it finishes."}, nil
				}
				return nil, err
			}
			return &CommandResult{
				Content: "Conversation cleared. System message: " + cc.Session.Settings().SystemMessage,
			}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /system, /strength, /temperature
// ---------------------------------------------------------------------------

func systemCommand() *Command {
	return &Command{
		Name:        "system",
		Description: "Show or replace the system message",
		Usage:       "/system [text]",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if cc.Session == nil {
				return noSession(), nil
			}
			if args == "" {
				return &CommandResult{Content: "System message: " + cc.Session.Settings().SystemMessage}, nil
			}
			return applySettings(cc.Session, "", "", args), nil
		},
	}
}

func strengthCommand() *Command {
	return &Command{
		Name:        "strength",
		Description: "Show or set the compression strength (0 drops everything, 100 sends text as typed)",
		Usage:       "/strength [0-100]",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if cc.Session == nil {
				return noSession(), nil
			}
			if args == "" {
				return &CommandResult{Content: fmt.Sprintf("Compression strength: %g%%", cc.Session.Settings().CompressionStrength)}, nil
			}
			return applySettings(cc.Session, args, "", ""), nil
		},
	}
}

func temperatureCommand() *Command {
	return &Command{
		Name:        "temperature",
		Description: "Show or set the sampling temperature",
		Usage:       "/temperature [0-1]",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if cc.Session == nil {
				return noSession(), nil
			}
			if args == "" {
				return &CommandResult{Content: fmt.Sprintf("Temperature: %g", cc.Session.Settings().Temperature)}, nil
			}
			return applySettings(cc.Session, "", args, ""), nil
		},
	}
}

// applySettings keeps the previous values on invalid input. The parse
// error goes to Rejected, never into the reply.
func applySettings(sess Conversation, strength, temperature, system string) *CommandResult {
	next, err := sess.ApplySettings(strength, temperature, system)
	if err != nil {
		return &CommandResult{
			Content:  "Keeping current settings.\n" + formatSettings(next),
			Data:     next,
			Rejected: err,
		}
	}
	return &CommandResult{Content: "Settings updated.\n" + formatSettings(next), Data: next}
}

func formatSettings(s chat.Settings) string {
	return fmt.Sprintf("Compression strength: %g%%\nTemperature: %g\nSystem message: %s",
		s.CompressionStrength, s.Temperature, s.SystemMessage)
}

// ---------------------------------------------------------------------------
// /settings
// ---------------------------------------------------------------------------

func settingsCommand() *Command {
	return &Command{
		Name:        "settings",
		Description: "Show the current conversation settings",
		Usage:       "/settings",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			if cc.Session == nil {
				return noSession(), nil
			}
			s := cc.Session.Settings()
			// History includes the system message.
			turns := len(cc.Session.History()) - 1
			content := fmt.Sprintf("%s\nMessages: %d", formatSettings(s), turns)
			if cc.Session.Busy() {
				content += "\nA reply is streaming."
			}
			return &CommandResult{Content: content, Data: s}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /compress
// ---------------------------------------------------------------------------

func compressCommand(preview Previewer) *Command {
	return &Command{
		Name:        "compress",
		Description: "Preview how text would be compressed at the current strength",
		Usage:       "/compress <text>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /compress <text>"}, nil
			}
			strength := float64(chat.DefaultCompressionStrength)
			if cc.Session != nil {
				strength = cc.Session.Settings().CompressionStrength
			}
			res, err := preview.Compress(ctx, args, strength)
			if err != nil {
				if errors.Is(err, compressor.ErrModelUnavailable) {
					return &CommandResult{Content: "The compression model is unavailable right now."}, nil
				}
				return nil, err
			}
			return &CommandResult{
				Content: fmt.Sprintf("Compressed at %g%% (%d -> %d tokens):\n%s",
					strength, res.OriginalTokens, res.CompressedTokens, res.Text),
				Data: res,
			}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /status
// ---------------------------------------------------------------------------

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := provider.StatusAll()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", a.Platform, state)
				if a.Error != "" {
					fmt.Fprintf(&b, " (%s)", a.Error)
				}
				b.WriteByte('\n')
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/conversation"
)

// Command represents a slash command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     CommandHandler
}

// CommandHandler is the function signature for command execution.
type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// Conversation is the session a command acts on. It is satisfied by
// *session.Session.
type Conversation interface {
	Settings() chat.Settings
	ApplySettings(strength, temperature, system string) (chat.Settings, error)
	Reset(system string) error
	History() []conversation.Message
	Busy() bool
}

// CommandContext provides dependencies to command handlers.
type CommandContext struct {
	Platform  string
	ChannelID string
	UserID    string
	UserName  string
	Session   Conversation
}

// CommandResult holds the output of a command.
type CommandResult struct {
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`

	// Rejected is input the command ignored. It is for logs, not replies.
	Rejected error `json:"-"`
}

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	mu       sync.RWMutex
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
}

// IsCommand reports whether a chat message should be dispatched as a
// slash command.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// Dispatch parses a slash command string and executes the matching handler.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	// Parse: "/command_name args..."
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args := input, ""
	if i := strings.IndexFunc(input, unicode.IsSpace); i >= 0 {
		name, args = input[:i], strings.TrimSpace(input[i:])
	}
	name = strings.ToLower(name)

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return &CommandResult{
			Content: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name),
		}, nil
	}

	return cmd.Handler(ctx, args, cc)
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

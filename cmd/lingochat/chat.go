package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nidhogg/lingochat/internal/api"
	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/gateway"
	"github.com/nidhogg/lingochat/internal/provider"
	"github.com/nidhogg/lingochat/internal/session"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		server      string
		sessionID   string
		strength    string
		temperature string
		system      string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal chat against a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := &chatClient{
				server: strings.TrimRight(server, "/"),
				http:   &http.Client{Timeout: 5 * time.Minute},
				out:    cmd.OutOrStdout(),
				errOut: cmd.ErrOrStderr(),
			}
			if sessionID == "" {
				id, err := c.createSession(strength, temperature, system)
				if err != nil {
					return err
				}
				sessionID = id
			}
			c.session = sessionID
			return c.repl(cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "lingochat server URL")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	cmd.Flags().StringVar(&strength, "strength", "", "initial compression strength (0-100)")
	cmd.Flags().StringVar(&temperature, "temperature", "", "initial temperature (0-1)")
	cmd.Flags().StringVar(&system, "system", "", "initial system message")
	return cmd
}

type chatClient struct {
	server  string
	session string
	http    *http.Client
	out     io.Writer
	errOut  io.Writer
}

func (c *chatClient) repl(in io.Reader) error {
	fmt.Fprintln(c.out, "lingochat CLI")
	fmt.Fprintf(c.out, "Server: %s | Session: %s\n", c.server, c.session)
	fmt.Fprintln(c.out, "Type 'exit' or 'quit' to leave, /help for commands.")
	fmt.Fprintln(c.out, "---")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(c.out, "Bye!")
			return nil
		}
		if strings.HasPrefix(input, "/") {
			c.command(input)
			continue
		}
		c.stream(input)
	}
	return scanner.Err()
}

func (c *chatClient) command(input string) {
	name, args, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	args = strings.TrimSpace(args)
	switch name {
	case "help":
		fmt.Fprintln(c.out, "Commands:")
		fmt.Fprintln(c.out, "  /settings               show current settings")
		fmt.Fprintln(c.out, "  /strength <0-100>       set compression strength")
		fmt.Fprintln(c.out, "  /temperature <0-1>      set temperature")
		fmt.Fprintln(c.out, "  /system <text>          replace the system message")
		fmt.Fprintln(c.out, "  /reset [system]         clear the conversation")
		fmt.Fprintln(c.out, "  /status                 show chat platform adapters")
	case "settings":
		c.showSettings()
	case "strength":
		c.updateSettings(map[string]string{"compression_strength": args})
	case "temperature":
		c.updateSettings(map[string]string{"temperature": args})
	case "system":
		c.updateSettings(map[string]string{"system_message": args})
	case "reset":
		c.reset(args)
	case "status":
		c.status()
	default:
		c.printError("Unknown command /%s", name)
	}
}

func (c *chatClient) createSession(strength, temperature, system string) (string, error) {
	var info session.Info
	err := c.do(http.MethodPost, "/api/sessions", map[string]string{
		"compression_strength": strength,
		"temperature":          temperature,
		"system_message":       system,
	}, &info)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return info.ID, nil
}

func (c *chatClient) showSettings() {
	var detail struct {
		Session session.Info `json:"session"`
	}
	if err := c.do(http.MethodGet, "/api/sessions/"+c.session, nil, &detail); err != nil {
		c.printError("Failed to fetch settings: %v", err)
		return
	}
	c.printSettings(detail.Session.Settings)
	fmt.Fprintf(c.out, "Messages: %d\n", detail.Session.Messages)
}

func (c *chatClient) printSettings(s chat.Settings) {
	fmt.Fprintf(c.out, "Compression strength: %g%%\n", s.CompressionStrength)
	fmt.Fprintf(c.out, "Temperature: %g\n", s.Temperature)
	fmt.Fprintf(c.out, "System message: %s\n", s.SystemMessage)
}

func (c *chatClient) updateSettings(body map[string]string) {
	var res struct {
		Settings chat.Settings `json:"settings"`
		Applied  bool          `json:"applied"`
	}
	if err := c.do(http.MethodPut, "/api/sessions/"+c.session+"/settings", body, &res); err != nil {
		c.printError("Failed to update settings: %v", err)
		return
	}
	if !res.Applied {
		fmt.Fprintln(c.out, "Keeping current settings.")
	}
	c.printSettings(res.Settings)
}

func (c *chatClient) reset(system string) {
	var info session.Info
	if err := c.do(http.MethodPost, "/api/sessions/"+c.session+"/reset", map[string]string{"system_message": system}, &info); err != nil {
		c.printError("Reset failed: %v", err)
		return
	}
	fmt.Fprintf(c.out, "Conversation cleared. System message: %s\n", info.Settings.SystemMessage)
}

func (c *chatClient) status() {
	var statuses []gateway.AdapterStatus
	if err := c.do(http.MethodGet, "/api/gateway/status", nil, &statuses); err != nil {
		c.printError("Failed to fetch status: %v", err)
		return
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No chat platform adapters configured.")
		return
	}
	fmt.Fprintln(c.out, "Gateway Status:")
	for _, s := range statuses {
		icon := "\033[31m✗\033[0m"
		if s.Connected {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Fprintf(c.out, "  %s %s", icon, s.Platform)
		if s.Details != "" {
			fmt.Fprintf(c.out, " - %s", s.Details)
		}
		if s.Error != "" {
			fmt.Fprintf(c.out, " \033[31m(%s)\033[0m", s.Error)
		}
		fmt.Fprintln(c.out)
	}
}

// stream sends one message and prints the reply as it arrives.
func (c *chatClient) stream(text string) {
	body, _ := json.Marshal(map[string]string{"message": text})
	resp, err := c.http.Post(
		c.server+"/api/sessions/"+c.session+"/messages/stream",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		c.printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.printError("Server error (%d): %s", resp.StatusCode, readError(resp.Body))
		return
	}

	sc := provider.NewSSEScanner(resp.Body)
	for sc.Next() {
		ev := sc.Event()
		switch ev.Type {
		case api.EventCompression:
			var comp api.CompressionEvent
			if json.Unmarshal([]byte(ev.Data), &comp) == nil {
				note := ""
				if comp.Uncompressed {
					note = ", uncompressed"
				}
				fmt.Fprintf(c.out, "\033[2m[sent %d of %d tokens%s] %s\033[0m\n",
					comp.CompressedTokens, comp.OriginalTokens, note, comp.Text)
			}
		case api.EventFragment:
			var frag api.FragmentEvent
			if json.Unmarshal([]byte(ev.Data), &frag) == nil {
				fmt.Fprint(c.out, frag.Text)
			}
		case api.EventDone:
			fmt.Fprintln(c.out)
			return
		case api.EventError:
			fmt.Fprintln(c.out)
			c.printError("Reply failed: %s", readError(strings.NewReader(ev.Data)))
			return
		}
	}
	if err := sc.Err(); err != nil {
		c.printError("Stream interrupted: %v", err)
	}
}

// do sends a JSON request and decodes a JSON response into v.
func (c *chatClient) do(method, path string, body, v interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.server+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%d: %s", resp.StatusCode, readError(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// readError extracts the "error" field of a JSON error body, falling back
// to the raw text.
func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}

func (c *chatClient) printError(format string, args ...interface{}) {
	w := c.errOut
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "\033[31m"+format+"\033[0m\n", args...)
}

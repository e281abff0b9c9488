package provider

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is a single server-sent event.
type SSEEvent struct {
	Type string
	Data string
}

// SSEScanner reads server-sent events from a response body. Events are
// separated by blank lines; multiple data lines are joined with "\n".
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

// NewSSEScanner wraps r in a buffered event reader.
func NewSSEScanner(r io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at end of stream or on
// a read error; check Err afterwards.
func (s *SSEScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = SSEEvent{}

	var data []string
	var eventType string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && len(data) > 0 {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(data, "\n")}
				return true
			}
			return false
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) > 0 {
				s.current = SSEEvent{Type: eventType, Data: strings.Join(data, "\n")}
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			eventType = value
		}
	}
}

// Event returns the event parsed by the last successful Next.
func (s *SSEScanner) Event() SSEEvent { return s.current }

// Err returns the read error that stopped the scanner, or nil on clean EOF.
func (s *SSEScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

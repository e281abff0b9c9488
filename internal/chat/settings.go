package chat

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nidhogg/lingochat/internal/conversation"
)

// ErrInvalidSettings is returned for unparseable or out-of-range settings.
var ErrInvalidSettings = errors.New("invalid settings")

const (
	DefaultCompressionStrength = 100
	DefaultTemperature         = 0.1
)

// Settings are the per-turn knobs chosen by the caller. The service never
// keeps a copy between calls.
type Settings struct {
	CompressionStrength float64 `json:"compression_strength"`
	Temperature         float64 `json:"temperature"`
	SystemMessage       string  `json:"system_message"`
	// AllowUncompressed sends the original text when the compression model
	// is unavailable instead of failing the turn.
	AllowUncompressed bool `json:"allow_uncompressed"`
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		CompressionStrength: DefaultCompressionStrength,
		Temperature:         DefaultTemperature,
		SystemMessage:       conversation.DefaultSystemMessage,
	}
}

// Validate checks that strength is in [0,100] and temperature in [0,1].
func (s Settings) Validate() error {
	if math.IsNaN(s.CompressionStrength) || s.CompressionStrength < 0 || s.CompressionStrength > 100 {
		return fmt.Errorf("%w: compression strength %v not in [0,100]", ErrInvalidSettings, s.CompressionStrength)
	}
	if math.IsNaN(s.Temperature) || s.Temperature < 0 || s.Temperature > 1 {
		return fmt.Errorf("%w: temperature %v not in [0,1]", ErrInvalidSettings, s.Temperature)
	}
	return nil
}

// ParseSettings applies textual input on top of prev. Empty fields keep
// their previous value. On any parse or range failure prev is returned
// unchanged together with the error.
func ParseSettings(prev Settings, strength, temperature, system string) (Settings, error) {
	next := prev
	if s := strings.TrimSpace(strength); s != "" {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return prev, fmt.Errorf("%w: compression strength %q: %v", ErrInvalidSettings, strength, err)
		}
		next.CompressionStrength = v
	}
	if s := strings.TrimSpace(temperature); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return prev, fmt.Errorf("%w: temperature %q: %v", ErrInvalidSettings, temperature, err)
		}
		next.Temperature = v
	}
	if system != "" {
		next.SystemMessage = system
	}
	if err := next.Validate(); err != nil {
		return prev, err
	}
	return next, nil
}

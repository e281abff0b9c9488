package chat

import (
	"errors"
	"testing"
)

func TestParseSettings(t *testing.T) {
	prev := DefaultSettings()

	got, err := ParseSettings(prev, "40%", "0.7", "Be terse.")
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if got.CompressionStrength != 40 || got.Temperature != 0.7 || got.SystemMessage != "Be terse." {
		t.Errorf("got %+v", got)
	}

	got, err = ParseSettings(prev, "", "", "")
	if err != nil || got != prev {
		t.Errorf("empty input: got %+v, %v", got, err)
	}
}

func TestParseSettingsKeepsAllPreviousOnFailure(t *testing.T) {
	prev := DefaultSettings()
	cases := []struct{ strength, temperature, system string }{
		{"abc", "0.5", "new system"},
		{"50", "warm", "new system"},
		{"150", "0.5", "new system"},
		{"50", "-0.1", "new system"},
		{"NaN", "0.5", ""},
	}
	for _, c := range cases {
		got, err := ParseSettings(prev, c.strength, c.temperature, c.system)
		if !errors.Is(err, ErrInvalidSettings) {
			t.Errorf("%+v: err = %v, want ErrInvalidSettings", c, err)
		}
		if got != prev {
			t.Errorf("%+v: got %+v, want previous settings", c, got)
		}
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.CompressionStrength != 100 || s.Temperature != 0.1 {
		t.Errorf("got %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("LINGOCHAT_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// call sends a JSON request and decodes the JSON response into out.
func call(t *testing.T, method, path string, body, out interface{}) int {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
	return resp.StatusCode
}

type sessionInfo struct {
	ID       string `json:"id"`
	Messages int    `json:"messages"`
	Settings struct {
		CompressionStrength float64 `json:"compression_strength"`
		Temperature         float64 `json:"temperature"`
		SystemMessage       string  `json:"system_message"`
	} `json:"settings"`
}

func newSession(t *testing.T) sessionInfo {
	t.Helper()
	var info sessionInfo
	if code := call(t, http.MethodPost, "/api/sessions", map[string]string{"compression_strength": "60"}, &info); code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	t.Cleanup(func() { call(t, http.MethodDelete, "/api/sessions/"+info.ID, nil, nil) })
	return info
}

func TestCompressEndpoints(t *testing.T) {
	var res struct {
		Text             string `json:"compressed_text"`
		OriginalTokens   int    `json:"original_tokens"`
		CompressedTokens int    `json:"compressed_tokens"`
	}
	text := "Could you please explain, in simple terms, how a prompt compressor decides which words to drop?"

	call(t, http.MethodPost, "/api/compress", map[string]interface{}{"text": text, "compression_strength": 0}, &res)
	if res.Text != "" || res.CompressedTokens != 2 {
		t.Errorf("strength 0: %+v", res)
	}
	call(t, http.MethodPost, "/api/compress", map[string]interface{}{"text": text, "compression_strength": 100}, &res)
	if res.Text != text {
		t.Errorf("strength 100: %+v", res)
	}
	call(t, http.MethodPost, "/api/compress", map[string]interface{}{"text": text, "compression_strength": 40}, &res)
	if res.CompressedTokens > res.OriginalTokens {
		t.Errorf("strength 40 grew: %+v", res)
	}
	t.Logf("40%%: %q", res.Text)
}

func TestSettingsKeepPreviousOnBadInput(t *testing.T) {
	sess := newSession(t)
	var res struct {
		Applied  bool `json:"applied"`
		Settings struct {
			CompressionStrength float64 `json:"compression_strength"`
		} `json:"settings"`
	}
	call(t, http.MethodPut, "/api/sessions/"+sess.ID+"/settings", map[string]string{"compression_strength": "abc"}, &res)
	if res.Applied || res.Settings.CompressionStrength != 60 {
		t.Errorf("bad settings: %+v", res)
	}
}

func TestChatTurn(t *testing.T) {
	sess := newSession(t)
	var res struct {
		Reply string `json:"reply"`
	}
	code := call(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages",
		map[string]string{"message": "Reply with the single word: pong"}, &res)
	if code != http.StatusOK {
		t.Fatalf("send: status %d", code)
	}
	if !strings.Contains(strings.ToLower(res.Reply), "pong") {
		t.Errorf("reply: %s", res.Reply)
	}

	var detail struct {
		Session sessionInfo `json:"session"`
	}
	call(t, http.MethodGet, "/api/sessions/"+sess.ID, nil, &detail)
	if detail.Session.Messages != 3 {
		t.Errorf("messages = %d, want 3", detail.Session.Messages)
	}
}

package critic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"demo-reel-pipeline/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func llmFor(t *testing.T, h http.HandlerFunc) *LLM {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.Default().Critic
	cfg.BaseURL = srv.URL + "/v1/"
	cfg.Timeout = 5 * time.Second
	return NewLLM(cfg, "sk-test", zap.NewNop())
}

func sample() Description {
	return Description{
		Segment:     "Introduction",
		Narration:   "Hi, I built a disaster response dashboard.",
		ExpectedSec: 8,
		CaptureKind: "video",
		BeatFile:    "output/01_introduction.mp4",
		BeatSec:     8.2,
		FileBytes:   120000,
	}
}

func TestLLM_StructuredReply(t *testing.T) {
	var body map[string]any
	c := llmFor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion(`{"score": 8.5, "issues": ["cursor flicker"], "fixes": ["hide cursor"]}`)))
	})

	v, err := c.Score(context.Background(), sample())
	require.NoError(t, err)
	assert.InDelta(t, 8.5, v.Score, 0.001)
	assert.True(t, v.Pass)
	assert.Equal(t, []string{"cursor flicker"}, v.Issues)
	assert.Equal(t, "llm:gpt-4o-mini", v.Critic)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	rf, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", rf["type"])

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)
	assert.Contains(t, user["content"], `"segment": "Introduction"`)
}

func TestLLM_FreeTextFallback(t *testing.T) {
	c := llmFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("Decent beat overall, I'd give it 6/10.")))
	})

	v, err := c.Score(context.Background(), sample())
	require.NoError(t, err)
	assert.InDelta(t, 6, v.Score, 0.001)
	assert.False(t, v.Pass)
}

func TestLLM_NoScore(t *testing.T) {
	c := llmFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("I cannot review videos.")))
	})

	_, err := c.Score(context.Background(), sample())
	assert.ErrorIs(t, err, ErrNoScore)
}

func TestLLM_HTTPError(t *testing.T) {
	c := llmFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	})

	_, err := c.Score(context.Background(), sample())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoScore))
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		score   float64
		wantErr bool
	}{
		{name: "json", content: `{"score":7,"issues":[],"fixes":[]}`, score: 7},
		{name: "fenced json", content: "```json\n{\"score\": 9, \"issues\": [], \"fixes\": []}\n```", score: 9},
		{name: "label", content: "Score: 4.5 because the map never loaded", score: 4.5},
		{name: "quoted label", content: `{"score"= 3`, score: 3},
		{name: "out of ten", content: "Overall 8 / 10", score: 8},
		{name: "zero is a score", content: `{"score":0,"issues":["blank frame"]}`, score: 0},
		{name: "json without score", content: `{"issues":["blank frame"],"fixes":[]}`, wantErr: true},
		{name: "null score", content: `{"score":null}`, wantErr: true},
		{name: "nothing", content: "looks fine", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := parseReply(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoScore)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.score, r.Score, 0.001)
		})
	}
}

func TestHeuristic(t *testing.T) {
	h := NewHeuristic(7)
	tests := []struct {
		name  string
		edit  func(d *Description)
		score float64
		pass  bool
	}{
		{name: "clean recording", edit: func(d *Description) {}, score: 10, pass: true},
		{name: "still", edit: func(d *Description) { d.CaptureKind = "still" }, score: 6},
		{name: "degraded", edit: func(d *Description) { d.Degraded = true; d.Reason = "render timeout" }, score: 8, pass: true},
		{name: "too long", edit: func(d *Description) { d.BeatSec = 14 }, score: 8, pass: true},
		{name: "silent", edit: func(d *Description) { d.SilentAudio = true }, score: 9, pass: true},
		{name: "still degraded silent", edit: func(d *Description) {
			d.CaptureKind = "still"
			d.Degraded = true
			d.SilentAudio = true
		}, score: 3},
		{name: "empty file", edit: func(d *Description) { d.FileBytes = 0 }, score: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sample()
			tt.edit(&d)
			v, err := h.Score(context.Background(), d)
			require.NoError(t, err)
			assert.InDelta(t, tt.score, v.Score, 0.001)
			assert.Equal(t, tt.pass, v.Pass)
			assert.Len(t, v.Fixes, len(v.Issues))
		})
	}
}

func TestNew_PicksCritic(t *testing.T) {
	cfg := config.Default().Critic

	t.Setenv("OPENAI_API_KEY", "")
	assert.Equal(t, "heuristic", New(cfg, zap.NewNop()).Name())

	t.Setenv("OPENAI_API_KEY", "sk-test")
	assert.Equal(t, "llm:gpt-4o-mini", New(cfg, zap.NewNop()).Name())

	cfg.Enabled = false
	assert.Equal(t, "heuristic", New(cfg, zap.NewNop()).Name())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-3))
	assert.Equal(t, 10.0, clamp(12))
	assert.Equal(t, 5.5, clamp(5.5))
}

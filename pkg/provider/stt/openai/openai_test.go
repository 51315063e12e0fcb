package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
}

func TestKeywordPrompt(t *testing.T) {
	got := keywordPrompt([]stt.KeywordBoost{{Keyword: "Hearken", Boost: 2}, {Keyword: ""}, {Keyword: "Xiaozhi"}})
	if got != "Hearken, Xiaozhi" {
		t.Errorf("keywordPrompt = %q", got)
	}
}

func TestTranscribe_RoundTrip(t *testing.T) {
	var calls atomic.Int32
	var gotModel, gotLang, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "What time is it?"})
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	h, err := p.StartStream(ctx, stt.StreamConfig{
		SampleRate: 16000,
		Language:   "en-US",
		Keywords:   []stt.KeywordBoost{{Keyword: "Hearken"}},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	if _, err := h.Feed(ctx, make([]byte, 1920)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	final, err := h.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if final != "What time is it?" {
		t.Errorf("final = %q", final)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if gotModel != "whisper-1" || gotLang != "en" || gotPrompt != "Hearken" {
		t.Errorf("form: model=%q language=%q prompt=%q", gotModel, gotLang, gotPrompt)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_, _ = h.Feed(context.Background(), make([]byte, 1920))
	if _, err := h.End(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}

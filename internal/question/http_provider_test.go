package question

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/quiz-battle/internal/domain"
)

func TestHTTPProvider_FetchEnvelope(t *testing.T) {
	var gotPath, gotRetry, gotStamp, gotCache, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRetry = r.URL.Query().Get("retry")
		gotStamp = r.URL.Query().Get("_")
		gotCache = r.Header.Get("Cache-Control")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"question":{"question":"2 + 3 = ?","choices":[5,4,6,3],"correct_answer":0,"explanation":"正解は 5 です。"}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/", time.Second, 0)
	q, err := p.Fetch(context.Background(), domain.SubjectMath, 2)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if gotPath != "/api/generate-question/math" {
		t.Errorf("Unexpected path %q", gotPath)
	}
	if gotRetry != "2" {
		t.Errorf("Expected retry=2, got %q", gotRetry)
	}
	if gotStamp == "" {
		t.Error("Expected cache-busting timestamp")
	}
	if gotCache != "no-cache, no-store" {
		t.Errorf("Unexpected Cache-Control %q", gotCache)
	}
	if gotRequestID == "" {
		t.Error("Expected X-Request-ID header")
	}
	if q.Prompt != "2 + 3 = ?" || q.CorrectChoice() != "5" {
		t.Errorf("Unexpected question %+v", q)
	}
}

func TestHTTPProvider_FetchBare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"question":"「山」の読み方は何ですか？","choices":["やま","かわ","ひと","おお"],"correct_answer":0,"explanation":"e"}`))
	}))
	defer srv.Close()

	q, err := NewHTTPProvider(srv.URL, time.Second, 60).Fetch(context.Background(), domain.SubjectKanji, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if q.CorrectChoice() != "やま" {
		t.Errorf("Expected やま, got %q", q.CorrectChoice())
	}
}

func TestHTTPProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, `{}`, ErrUnexpectedStatus},
		{"missing question", http.StatusOK, `{"choices":["a"],"correct_answer":0}`, ErrInvalidPayload},
		{"missing choices", http.StatusOK, `{"question":"q","correct_answer":0}`, ErrInvalidPayload},
		{"missing index", http.StatusOK, `{"question":"q","choices":["a"]}`, ErrInvalidPayload},
		{"index out of range", http.StatusOK, `{"question":"q","choices":["a"],"correct_answer":4}`, ErrInvalidPayload},
		{"generator failure", http.StatusOK, `{"success":false,"error":"quota"}`, ErrInvalidPayload},
		{"not json", http.StatusOK, `<html>`, ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPProvider(srv.URL, time.Second, 0).Fetch(context.Background(), domain.SubjectMath, 0)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

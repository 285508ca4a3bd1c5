// SPDX-License-Identifier: MIT

package kie

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGenerateImage(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/gpt4o-image/generate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode create body: %v", err)
		}
		if body["prompt"] != "a castle at dawn" {
			t.Errorf("prompt = %q", body["prompt"])
		}
		writeEnvelope(w, 200, map[string]string{"taskId": "img-1"})
	})
	mux.HandleFunc("GET /api/v1/gpt4o-image/result/img-1", func(w http.ResponseWriter, _ *http.Request) {
		// First poll: still rendering. Second poll: done.
		if polls.Add(1) < 2 {
			writeEnvelope(w, 200, map[string]string{"imageUrl": ""})
			return
		}
		writeEnvelope(w, 200, map[string]string{"imageUrl": "https://cdn.example.com/img-1.png"})
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	c := newTestClient(s.URL)
	url, err := c.GenerateImage(context.Background(), "a castle at dawn")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if url != "https://cdn.example.com/img-1.png" {
		t.Fatalf("url = %q", url)
	}
	if polls.Load() != 2 {
		t.Fatalf("polls = %d, want 2", polls.Load())
	}
}

func TestGenerateImagePollExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/gpt4o-image/generate", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, 200, map[string]string{"taskId": "img-2"})
	})
	mux.HandleFunc("GET /api/v1/gpt4o-image/result/img-2", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, 200, map[string]string{"imageUrl": ""})
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	c := newTestClient(s.URL)
	_, err := c.GenerateImage(context.Background(), "slow scene")
	if !errors.Is(err, ErrPollExhausted) {
		t.Fatalf("err = %v, want ErrPollExhausted", err)
	}
}

func TestGenerateImagePollErrorsTolerated(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/gpt4o-image/generate", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, 200, map[string]string{"taskId": "img-3"})
	})
	mux.HandleFunc("GET /api/v1/gpt4o-image/result/img-3", func(w http.ResponseWriter, _ *http.Request) {
		// A flaky status endpoint must not kill the task.
		if polls.Add(1) < 3 {
			http.Error(w, "transient", http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, 200, map[string]string{"imageUrl": "https://cdn.example.com/img-3.png"})
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	c := newTestClient(s.URL)
	url, err := c.GenerateImage(context.Background(), "flaky scene")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if url != "https://cdn.example.com/img-3.png" {
		t.Fatalf("url = %q", url)
	}
}

func TestGenerateImageCreateFailure(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/gpt4o-image/generate", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})
	mux.HandleFunc("/", func(http.ResponseWriter, *http.Request) {
		polls.Add(1)
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	c := newTestClient(s.URL)
	if _, err := c.GenerateImage(context.Background(), "x"); err == nil {
		t.Fatal("expected create error")
	}
	if polls.Load() != 0 {
		t.Fatalf("polled %d times after failed create", polls.Load())
	}
}

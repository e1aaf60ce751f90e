package preview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchSuccess(t *testing.T) {
	var gotReq fetchRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(Result{
			Title:        "Stand Mixer",
			PriceLabel:   "$299.00",
			Merchant:     "shop.example.com",
			CanonicalURL: "https://shop.example.com/mixer",
			FetchStatus:  StatusSuccess,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", 0)
	result, err := client.Fetch(context.Background(), "https://shop.example.com/mixer?ref=x", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Title != "Stand Mixer" {
		t.Errorf("Title = %q, want Stand Mixer", result.Title)
	}
	if gotReq.URL != "https://shop.example.com/mixer?ref=x" {
		t.Errorf("request url = %q", gotReq.URL)
	}
	if !gotReq.ForceRefresh {
		t.Error("force_refresh should be true")
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q, want Bearer secret", gotAuth)
	}
}

func TestFetchDefaultsEmptyStatusToSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"Mixer"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	result, err := client.Fetch(context.Background(), "https://x.example.com", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FetchStatus != StatusSuccess {
		t.Errorf("FetchStatus = %q, want success", result.FetchStatus)
	}
}

func TestFetchAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "stale", 0)
	_, err := client.Fetch(context.Background(), "https://x.example.com", false)
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("error = %v, want ErrAuthExpired", err)
	}
}

func TestFetchRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream blocked","details":"bot detection"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	_, err := client.Fetch(context.Background(), "https://x.example.com", false)

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want RemoteError", err)
	}
	if remote.Status != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", remote.Status)
	}
	if remote.Message != "upstream blocked: bot detection" {
		t.Errorf("Message = %q", remote.Message)
	}
}

func TestFetchRemoteErrorPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("something broke\n"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0)
	_, err := client.Fetch(context.Background(), "https://x.example.com", false)

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want RemoteError", err)
	}
	if remote.Message != "something broke" {
		t.Errorf("Message = %q, want raw body fallback", remote.Message)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 50*time.Millisecond)
	_, err := client.Fetch(context.Background(), "https://x.example.com", false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}

func TestFetchCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Fetch(ctx, "https://x.example.com", false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want Canceled", err)
	}
}

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
)

func testCandidate() *model.Candidate {
	return &model.Candidate{
		Sender:     "noreply-alerts@acme.com",
		FromHeader: "Acme Alerts <noreply-alerts@acme.com>",
		Subject:    "URGENT: disk full",
		Recipient:  "team@acme.com",
		Date:       time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC),
	}
}

func TestNotifySendsExpectedPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, time.Second, zap.NewNop())
	if err := d.Notify(context.Background(), testCandidate()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if got.Content != "**EMAIL ALERT**" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Username == "" || got.AvatarURL == "" {
		t.Error("missing sending identity fields")
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "Email Details:" {
		t.Errorf("embed title = %q", e.Title)
	}
	if e.Color != 3447003 {
		t.Errorf("embed color = %d", e.Color)
	}
	if e.Footer.Text == "" {
		t.Error("missing footer text")
	}
	for _, want := range []string{
		"**From:** Acme Alerts <noreply-alerts@acme.com>",
		"**Recipient:** team@acme.com",
		"**Subject:** URGENT: disk full",
	} {
		if !strings.Contains(e.Description, want) {
			t.Errorf("description %q missing %q", e.Description, want)
		}
	}
}

func TestNotifyNonNoContentIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, time.Second, zap.NewNop())
	err := d.Notify(context.Background(), testCandidate())
	if err == nil {
		t.Fatal("Notify accepted a non-204 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q does not mention the status", err)
	}
}

func TestNotifyEvenOKIsError(t *testing.T) {
	// Discord webhooks answer 204; a plain 200 still counts as a
	// delivery error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, time.Second, zap.NewNop())
	if err := d.Notify(context.Background(), testCandidate()); err == nil {
		t.Fatal("Notify accepted a 200 response")
	}
}

func TestNotifyConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	d := NewDiscord(srv.URL, time.Second, zap.NewNop())
	if err := d.Notify(context.Background(), testCandidate()); err == nil {
		t.Fatal("Notify succeeded against a closed server")
	}
}

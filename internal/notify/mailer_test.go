package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trackpay/trackpay-api/internal/model"
)

func testInvite(lang model.Language) InviteEmail {
	return InviteEmail{
		To:           "maria@example.com",
		ClientName:   "Maria",
		ProviderName: "Ana <Cleaning>",
		Code:         "ABCD2345",
		Language:     lang,
		ExpiresAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderInvite_English(t *testing.T) {
	c := renderInvite(testInvite(model.LanguageEnglish))

	if c.subject != "Ana <Cleaning> invited you to TrackPay" {
		t.Errorf("subject = %q", c.subject)
	}
	for _, want := range []string{"Hi Maria", "ABCD2345", "2026-03-01"} {
		if !strings.Contains(c.text, want) {
			t.Errorf("text should contain %q: %s", want, c.text)
		}
	}
	// HTML本文では名前をエスケープする
	if !strings.Contains(c.html, "Ana &lt;Cleaning&gt;") {
		t.Errorf("html should escape provider name: %s", c.html)
	}
}

func TestRenderInvite_Spanish(t *testing.T) {
	c := renderInvite(testInvite(model.LanguageSpanish))

	if !strings.Contains(c.subject, "te invitó") {
		t.Errorf("subject = %q, want spanish", c.subject)
	}
	if !strings.Contains(c.text, "Tu código de invitación es: ABCD2345") {
		t.Errorf("text = %q", c.text)
	}
}

func TestSendInvite_PostsToSendGrid(t *testing.T) {
	var gotAuth, gotPath string
	var payload map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	m := newSendGridMailerWithHost("SG.test-key", "no-reply@trackpay.app", ts.URL)

	if err := m.SendInvite(context.Background(), testInvite(model.LanguageEnglish)); err != nil {
		t.Fatalf("SendInvite() error = %v", err)
	}
	if gotAuth != "Bearer SG.test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/v3/mail/send" {
		t.Errorf("path = %q, want /v3/mail/send", gotPath)
	}
	from, _ := payload["from"].(map[string]any)
	if from["email"] != "no-reply@trackpay.app" {
		t.Errorf("from = %v", payload["from"])
	}
}

func TestSendInvite_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer ts.Close()

	m := newSendGridMailerWithHost("SG.bad", "no-reply@trackpay.app", ts.URL)

	err := m.SendInvite(context.Background(), testInvite(model.LanguageEnglish))
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should mention status: %v", err)
	}
}

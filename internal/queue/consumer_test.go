package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHandleOTPRequestedAppends(t *testing.T) {
	dir := t.TempDir()
	c := NewConsumer("", dir, nil)

	issued := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, code := range []string{"123456", "654321"} {
		body, _ := json.Marshal(NewOTPRequested("ana@example.com", "email", code, issued, 5*time.Minute))
		if err := c.HandleOTPRequested(body); err != nil {
			t.Fatal(err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "otp.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	for _, want := range []string{"[2025-05-01T12:00:00Z]", `to="ana@example.com"`, "code=123456", "expires_at=2025-05-01T12:05:00Z"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
}

func TestHandleMediaChanged(t *testing.T) {
	dir := t.TempDir()
	c := NewConsumer("", dir, nil)

	body, _ := json.Marshal(NewMediaChanged(MediaDeleted, "01HX", "Sunset", "admin@example.com"))
	if err := c.HandleMediaChanged(body); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "media.log"))
	if !strings.Contains(string(b), "Media deleted") || !strings.Contains(string(b), "media_id=01HX") {
		t.Errorf("media.log = %q", b)
	}
}

func TestHandlersRejectBadPayloads(t *testing.T) {
	c := NewConsumer("", t.TempDir(), nil)
	if err := c.HandleOTPRequested([]byte("{")); err == nil {
		t.Error("want unmarshal error")
	}
	if err := c.HandleOTPRequested([]byte(`{"identifier":"a@b.c"}`)); err == nil {
		t.Error("want missing code error")
	}
	if err := c.HandleMediaChanged([]byte(`{"action":"created"}`)); err == nil {
		t.Error("want missing media_id error")
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	a := NewMediaChanged(MediaCreated, "1", "", "")
	b := NewMediaChanged(MediaCreated, "1", "", "")
	if a.EventID == "" || a.EventID == b.EventID {
		t.Errorf("event ids %q %q", a.EventID, b.EventID)
	}
}

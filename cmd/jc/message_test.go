package main

import (
	"strings"
	"testing"
)

func TestMessageCmd_Help(t *testing.T) {
	out, err := run(t, "message", "--help")
	if err != nil {
		t.Fatalf("message --help failed: %v", err)
	}
	for _, sub := range []string{"send", "history", "partners", "unread"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q, got: %s", sub, out)
		}
	}
}

func TestMessageSendHistoryPartners(t *testing.T) {
	path := writeTestConfig(t, "")
	if _, err := run(t, "db", "migrate", "--config", path); err != nil {
		t.Fatalf("db migrate: %v", err)
	}

	out, err := run(t, "message", "history", "--config", path, "--a", "u1", "--b", "u2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No messages between u1 and u2") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = run(t, "message", "send", "--config", path, "--from", "u1", "--to", "u2", "--body", "hello there")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "Sent message 1 to u2") {
		t.Errorf("unexpected output: %s", out)
	}

	// An immediate retry is recognised as the same message.
	out, err = run(t, "message", "send", "--config", path, "--from", "u1", "--to", "u2", "--body", "hello there")
	if err != nil {
		t.Fatalf("send retry: %v", err)
	}
	if !strings.Contains(out, "Message 1 already exists") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = run(t, "message", "history", "--config", path, "--a", "u2", "--b", "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "hello there") {
		t.Errorf("expected message in history, got: %s", out)
	}

	out, err = run(t, "message", "partners", "--config", path, "--user", "u2")
	if err != nil {
		t.Fatalf("partners: %v", err)
	}
	if strings.TrimSpace(out) != "u1" {
		t.Errorf("partners = %q, want u1", out)
	}

	out, err = run(t, "message", "unread", "--config", path, "--user", "u2")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if !strings.Contains(out, "u1") || !strings.Contains(out, "1") {
		t.Errorf("unexpected unread output: %s", out)
	}
}

func TestMessageSend_Validation(t *testing.T) {
	path := writeTestConfig(t, "")
	if _, err := run(t, "db", "migrate", "--config", path); err != nil {
		t.Fatalf("db migrate: %v", err)
	}

	_, err := run(t, "message", "send", "--config", path, "--from", "u1", "--to", "u1", "--body", "me")
	if err == nil {
		t.Fatal("expected error sending to self")
	}
	if !strings.Contains(err.Error(), "must differ") {
		t.Errorf("error = %q", err.Error())
	}
}

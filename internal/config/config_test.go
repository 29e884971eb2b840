package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("TALANTA_TOKEN", "token")
	t.Setenv("TALANTA_USER_ID", "1")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.APIBaseURL != "http://localhost:8081/api" {
		t.Fatalf("unexpected API base URL %q", cfg.APIBaseURL)
	}
	if cfg.WSURL != "ws://localhost:8081/ws" {
		t.Fatalf("unexpected WS URL %q", cfg.WSURL)
	}
	if cfg.HeartbeatInterval != 4*time.Second {
		t.Fatalf("unexpected heartbeat interval %v", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("unexpected reconnect delay %v", cfg.ReconnectDelay)
	}
	if cfg.DBFile != "talanta.db" {
		t.Fatalf("unexpected db file %q", cfg.DBFile)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TALANTA_PEER_ID", "7")
	t.Setenv("HEARTBEAT_INTERVAL", "250ms")
	t.Setenv("TYPING_EXPIRY", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.PeerID != 7 {
		t.Fatalf("unexpected peer id %d", cfg.PeerID)
	}
	if cfg.HeartbeatInterval != 250*time.Millisecond {
		t.Fatalf("unexpected heartbeat interval %v", cfg.HeartbeatInterval)
	}
	if cfg.TypingExpiry != 10*time.Second {
		t.Fatalf("unexpected typing expiry %v", cfg.TypingExpiry)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("TALANTA_TOKEN", "")
	t.Setenv("TALANTA_USER_ID", "1")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestLoadRequiresUserID(t *testing.T) {
	t.Setenv("TALANTA_TOKEN", "token")
	t.Setenv("TALANTA_USER_ID", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("RECONNECT_DELAY", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadRejectsBadUserID(t *testing.T) {
	t.Setenv("TALANTA_TOKEN", "token")
	t.Setenv("TALANTA_USER_ID", "first")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable user id")
	}
}

package stomp

import (
	"bytes"
	"testing"
)

func TestMarshalConnect(t *testing.T) {
	f := New(CmdConnect,
		Header{"accept-version", "1.2"},
		Header{"heart-beat", "4000,4000"},
		Header{"Authorization", "Bearer tok"},
	)

	raw := f.Marshal()
	want := "CONNECT\naccept-version:1.2\nheart-beat:4000,4000\nAuthorization:Bearer tok\n\n\x00"
	if string(raw) != want {
		t.Errorf("unexpected frame:\n%q\nwant:\n%q", raw, want)
	}
}

func TestMarshalSendWithBody(t *testing.T) {
	f := New(CmdSend, Header{"destination", "/app/chat"})
	f.Body = []byte(`{"text":"hi"}`)

	raw := f.Marshal()
	want := "SEND\ndestination:/app/chat\ncontent-length:13\n\n{\"text\":\"hi\"}\x00"
	if string(raw) != want {
		t.Errorf("unexpected frame:\n%q\nwant:\n%q", raw, want)
	}
}

func TestParseMessage(t *testing.T) {
	raw := []byte("MESSAGE\nsubscription:sub-0\nmessage-id:7\ndestination:/user/1/queue/messages\n\n{\"id\":5}\x00")
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.Command != CmdMessage {
		t.Errorf("expected MESSAGE, got %s", f.Command)
	}
	if sub, _ := f.Header("subscription"); sub != "sub-0" {
		t.Errorf("expected subscription sub-0, got %q", sub)
	}
	if string(f.Body) != `{"id":5}` {
		t.Errorf("unexpected body %q", f.Body)
	}
}

func TestParseCRLFFrame(t *testing.T) {
	raw := []byte("MESSAGE\r\nsubscription:sub-0\r\ndestination:/topic/user-status\r\n\r\n{\"userId\":2}\x00")
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.Command != CmdMessage {
		t.Errorf("expected MESSAGE, got %s", f.Command)
	}
	if dest, _ := f.Header("destination"); dest != "/topic/user-status" {
		t.Errorf("expected destination /topic/user-status, got %q", dest)
	}
	if string(f.Body) != `{"userId":2}` {
		t.Errorf("unexpected body %q", f.Body)
	}
}

func TestParseContentLength(t *testing.T) {
	// Body contains a NUL; content-length must win over the terminator.
	raw := []byte("MESSAGE\ncontent-length:3\n\na\x00b\x00")
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !bytes.Equal(f.Body, []byte("a\x00b")) {
		t.Errorf("unexpected body %q", f.Body)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"no terminator", "MESSAGE\nbroken header\n\n\x00"} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestHeartbeat(t *testing.T) {
	if !IsHeartbeat([]byte("\n")) {
		t.Error("LF should be a heartbeat")
	}
	if !IsHeartbeat([]byte("\r\n")) {
		t.Error("CRLF should be a heartbeat")
	}
	if IsHeartbeat([]byte("MESSAGE\n\n\x00")) {
		t.Error("frame misdetected as heartbeat")
	}
}

func TestHeaderEscapingRoundTrip(t *testing.T) {
	f := New(CmdSend, Header{"destination", "/queue/a:b\nc"})
	parsed, err := Parse(f.Marshal())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v, _ := parsed.Header("destination"); v != "/queue/a:b\nc" {
		t.Errorf("round trip mangled header: %q", v)
	}
}

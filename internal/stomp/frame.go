// Package stomp implements the small client-side subset of STOMP 1.2 the
// chat backend speaks over its WebSocket endpoint: one frame per WebSocket
// text message, LF line endings, NUL-terminated bodies, and bare-LF
// heartbeats.
package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	// Client commands.
	CmdConnect     Command = "CONNECT"
	CmdSubscribe   Command = "SUBSCRIBE"
	CmdUnsubscribe Command = "UNSUBSCRIBE"
	CmdSend        Command = "SEND"
	CmdDisconnect  Command = "DISCONNECT"

	// Server commands.
	CmdConnected Command = "CONNECTED"
	CmdMessage   Command = "MESSAGE"
	CmdReceipt   Command = "RECEIPT"
	CmdError     Command = "ERROR"
)

// Frame is a single STOMP frame. Headers preserve insertion order because
// STOMP gives the first occurrence of a repeated header precedence.
type Frame struct {
	Command Command
	Headers []Header
	Body    []byte
}

type Header struct {
	Key   string
	Value string
}

// Heartbeat is the bare-LF frame both peers use as a liveness signal.
var Heartbeat = []byte("\n")

// IsHeartbeat reports whether raw is a heartbeat rather than a frame.
func IsHeartbeat(raw []byte) bool {
	trimmed := bytes.TrimRight(raw, "\r\n")
	return len(trimmed) == 0
}

func New(cmd Command, headers ...Header) *Frame {
	return &Frame{Command: cmd, Headers: headers}
}

func (f *Frame) Header(key string) (string, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

func (f *Frame) Set(key, value string) *Frame {
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
	return f
}

// Marshal serializes the frame for transmission. Header values are escaped
// per STOMP 1.2 except on CONNECT, which the protocol exempts for
// compatibility with 1.0 servers.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(f.Command))
	buf.WriteByte('\n')

	escape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, h := range f.Headers {
		if escape {
			buf.WriteString(escapeHeader(h.Key))
			buf.WriteByte(':')
			buf.WriteString(escapeHeader(h.Value))
		} else {
			buf.WriteString(h.Key)
			buf.WriteByte(':')
			buf.WriteString(h.Value)
		}
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		buf.WriteString("content-length:")
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse decodes a single frame from one WebSocket message. The caller must
// filter heartbeats with IsHeartbeat first.
func Parse(raw []byte) (*Frame, error) {
	raw = bytes.TrimSuffix(raw, []byte{0})

	head, body, found := cutHeaders(raw)
	if !found {
		return nil, fmt.Errorf("stomp: frame without header terminator")
	}

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("stomp: empty command line")
	}

	f := &Frame{Command: Command(lines[0])}
	unescape := f.Command != CmdConnected
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: malformed header line %q", line)
		}
		if unescape {
			var err error
			if key, err = unescapeHeader(key); err != nil {
				return nil, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, err
			}
		}
		f.Headers = append(f.Headers, Header{Key: key, Value: value})
	}

	// content-length wins over the NUL terminator when present.
	if v, ok := f.Header("content-length"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("stomp: bad content-length %q", v)
		}
		body = body[:n]
	}
	f.Body = body

	return f, nil
}

// cutHeaders splits a frame at its header terminator. STOMP 1.2 allows
// CRLF as EOL, so the terminator is whichever of "\n\n" and "\r\n\r\n"
// comes first; the body must be left untouched either way.
func cutHeaders(raw []byte) (head, body []byte, ok bool) {
	lf := bytes.Index(raw, []byte("\n\n"))
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:], true
	case lf >= 0:
		return raw[:lf], raw[lf+2:], true
	}
	return nil, nil, false
}

var headerEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, ":", `\c`, "\r", `\r`)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("stomp: dangling escape in %q", s)
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("stomp: invalid escape \\%c", s[i])
		}
	}
	return b.String(), nil
}

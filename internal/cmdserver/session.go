package cmdserver

import (
	"fmt"
	"net"
)

const helpText = `Available commands:
  ON               start operation
  OFF              stop operation
  CLEAR            clear ranking buffer and remote display queue
  PAUSE            stop sending to the display
  RESUME           resume sending to the display
  JOIN :#a,#b      join additional channels
  TELNET           switch this session to telnet-compatible mode
  ?                this help listing`

// session holds the per-connection state the spec calls CommandSession:
// the socket and whether telnet compatibility mode is active. At most
// one session exists process-wide (enforced by Server.serve's
// preemption), per spec invariant #5.
type session struct {
	conn       net.Conn
	telnetMode bool

	pending []byte // backspace-edit scratch space for the current input line
}

func (s *session) lineTerminator() string {
	if s.telnetMode {
		return "\r\n"
	}
	return "\n"
}

func (s *session) writeLine(line string) error {
	_, err := fmt.Fprint(s.conn, line+s.lineTerminator())
	return err
}

// writeBanner emits the product banner, re-emitted verbatim (in whatever
// line-terminator mode is currently active) whenever TELNET is issued,
// per spec §4.F and invariant #6 in §8.
func (s *session) writeBanner() {
	peer := "unknown"
	if ra := s.conn.RemoteAddr(); ra != nil {
		peer = ra.String()
	}
	s.writeLine(fmt.Sprintf("%s v%s", bannerProduct, bannerVersion))
	s.writeLine("Type '?' to obtain available commands.")
	s.writeLine(fmt.Sprintf("Hello %s!", peer))
}

// writeHelp emits the multi-line help listing, re-terminating each line
// with whatever line terminator this session currently uses.
func (s *session) writeHelp() {
	term := s.lineTerminator()
	converted := ""
	for _, line := range splitLines(helpText) {
		converted += line + term
	}
	fmt.Fprint(s.conn, converted)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

// stripBackspaces applies one-char rubout editing for each 0x08 byte in
// raw, per spec §4.F's telnet-mode backspace handling. Applied
// unconditionally (harmless in normal mode, where a real backspace byte
// would be unusual input anyway) rather than gated on telnetMode, since
// the spec frames it as a property of the byte stream, not a mode check.
func (s *session) stripBackspaces(raw string) string {
	buf := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == 0x08 {
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
			}
			continue
		}
		buf = append(buf, c)
	}
	return string(buf)
}

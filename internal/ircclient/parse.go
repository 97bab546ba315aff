package ircclient

import "strings"

// rawMessage is one parsed IRC line: optional IRCv3 tags, optional
// prefix, command, and space-separated params with an optional trailing
// (: -prefixed) parameter.
type rawMessage struct {
	tags     map[string]string
	prefix   string
	command  string
	params   []string
	trailing string
}

// nickFromPrefix extracts the nick from a "nick!user@host" prefix.
func (m rawMessage) nickFromPrefix() string {
	if m.prefix == "" {
		return ""
	}
	if i := strings.IndexByte(m.prefix, '!'); i >= 0 {
		return m.prefix[:i]
	}
	return m.prefix
}

// parseIRCLine parses one line per the IRCv3 message grammar:
// ["@" tags SPACE] [":" prefix SPACE] command [params] [SPACE ":" trailing]
func parseIRCLine(line string) rawMessage {
	var m rawMessage

	if strings.HasPrefix(line, "@") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return m
		}
		m.tags = parseTags(line[1:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if strings.HasPrefix(line, ":") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return m
		}
		m.prefix = line[1:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if idx := strings.Index(line, " :"); idx >= 0 {
		m.trailing = line[idx+2:]
		line = line[:idx]
	} else if strings.HasPrefix(line, ":") {
		m.trailing = line[1:]
		line = ""
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return m
	}
	m.command = strings.ToUpper(fields[0])
	m.params = fields[1:]
	if m.trailing != "" {
		m.params = append(m.params, m.trailing)
	}
	return m
}

// parseTags parses the IRCv3 tag string (without the leading '@') into a
// key -> value map, per the `<key>=<value>;<key>=<value>` grammar.
// Twitch's escaping (\s \: \\ \r \n) is unescaped.
func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			tags[kv] = ""
			continue
		}
		tags[kv[:eq]] = unescapeTagValue(kv[eq+1:])
	}
	return tags
}

func unescapeTagValue(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
			switch v[i] {
			case 's':
				b.WriteByte(' ')
			case ':':
				b.WriteByte(';')
			case 'r':
				b.WriteByte('\r')
			case 'n':
				b.WriteByte('\n')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(v[i])
			}
			continue
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

package analyzer

import (
	"strconv"
	"strings"
)

// emoteSpan is one <start>-<end> occurrence of an emote-id in the
// `emotes` IRCv3 tag, with indices in UTF-16 code-unit positions as
// Twitch specifies (spec §4.D.1 — surrogate-sensitive).
type emoteSpan struct {
	id    string
	start int
	end   int // inclusive
}

// parseEmotesTag parses the Twitch `emotes` tag value:
// `<emote-id>:<start>-<end>{,<start>-<end>}{/<emote-id>:...}`.
// Malformed entries are skipped (ProtocolError class, per spec §7) rather
// than aborting the whole parse.
func parseEmotesTag(tag string) []emoteSpan {
	if tag == "" {
		return nil
	}
	var spans []emoteSpan
	for _, group := range strings.Split(tag, "/") {
		if group == "" {
			continue
		}
		idAndRanges := strings.SplitN(group, ":", 2)
		if len(idAndRanges) != 2 {
			continue
		}
		id := idAndRanges[0]
		if id == "" {
			continue
		}
		for _, rng := range strings.Split(idAndRanges[1], ",") {
			se := strings.SplitN(rng, "-", 2)
			if len(se) != 2 {
				continue
			}
			start, err1 := strconv.Atoi(se[0])
			end, err2 := strconv.Atoi(se[1])
			if err1 != nil || err2 != nil || start < 0 || end < start {
				continue
			}
			spans = append(spans, emoteSpan{id: id, start: start, end: end})
		}
	}
	return spans
}

// spanAt returns the emote span covering UTF-16 index pos, if any. Spans
// are assumed few per message; a linear scan is simpler and fast enough
// than an interval tree here.
func spanAt(spans []emoteSpan, pos int) (emoteSpan, bool) {
	for _, s := range spans {
		if pos >= s.start && pos <= s.end {
			return s, true
		}
	}
	return emoteSpan{}, false
}

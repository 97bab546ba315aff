// Package analyzer implements the Message Analyzer (component D): it
// turns one parsed IRC PRIVMSG into an ordered sequence of ImageKey
// occurrences, per spec §4.D. Grounded on the teacher's linkpreview.go
// (regex scanning over message text) and client.go's per-message
// dispatch texture; grapheme-cluster boundaries come from
// github.com/rivo/uniseg (pulled into the pack via
// rustyguts-bken/client's dependency graph), since the standard library
// has no extended-grapheme-cluster segmentation.
package analyzer

import (
	"strings"

	"github.com/rivo/uniseg"

	"matrixbridge/internal/imagekey"
)

// Config holds the filtering policy applied at emission time, per spec
// §4.D.3-4.
type Config struct {
	NoSummation      bool
	ForbiddenEmotes  map[string]struct{}
	ForbiddenUsers   map[string]struct{} // lowercased
}

// DefaultForbiddenEmotes are the hard-coded default forbidden Twitch
// emote ids (spec §6), merged with any --forbidden-emotes the operator
// supplies.
var DefaultForbiddenEmotes = []string{
	"MercyWing1", "MercyWing2", "PowerUpL", "PowerUpR",
	"Squid1", "Squid2", "Squid4", "DinoDance",
}

// PrivMsg is the subset of a parsed IRC PRIVMSG the analyzer needs.
type PrivMsg struct {
	Channel    string
	SenderLower string
	EmotesTag  string // raw `emotes` IRCv3 tag value, "" if absent
	Text       string
}

// Analyze returns the ordered sequence of ImageKeys found in msg, or nil
// if msg's sender is forbidden (filtering "upstream of the analyzer" per
// spec §4.D.4 is implemented here as the first check, since this is the
// single call site every PRIVMSG passes through).
func Analyze(msg PrivMsg, cfg Config) []imagekey.Key {
	if _, blocked := cfg.ForbiddenUsers[msg.SenderLower]; blocked {
		return nil
	}

	spans := parseEmotesTag(msg.EmotesTag)
	var out []imagekey.Key
	var seen map[string]struct{}
	if cfg.NoSummation {
		seen = make(map[string]struct{})
	}

	pos := 0 // UTF-16 code-unit position within msg.Text
	gr := uniseg.NewGraphemes(msg.Text)

	for gr.Next() {
		cr := gr.Runes()

		if span, ok := spanAt(spans, pos); ok {
			if key, err := imagekey.NewTwitchEmote(span.id, "", "", ""); err == nil {
				if _, forbidden := cfg.ForbiddenEmotes[span.id]; !forbidden {
					out = appendKey(out, key, cfg.NoSummation, seen)
				}
			}
			// Jump past the emote range: advance pos to span.end+1,
			// resynchronizing the grapheme iterator to that offset.
			// cr itself covers the span's first code unit(s), so its
			// width counts before we consume any further graphemes —
			// otherwise the loop below swallows one grapheme past the
			// span to make up for it, silently dropping whatever comes
			// right after the emote.
			target := span.end + 1
			for _, r := range cr {
				pos += utf16Len(r)
			}
			for pos < target && gr.Next() {
				for _, r := range gr.Runes() {
					pos += utf16Len(r)
				}
			}
			continue
		}

		if classifyEmojiCluster(cr) {
			normalized := normalizeEmojiCodepoints(cr)
			if key, err := imagekey.NewEmoji(normalized); err == nil {
				out = appendKey(out, key, cfg.NoSummation, seen)
			}
		}

		for _, r := range cr {
			pos += utf16Len(r)
		}
	}

	return out
}

// normalizeEmojiCodepoints drops every variation selector-16 in the
// cluster, wherever it appears; it is presentation-only and not part of
// the emoji's canonical identity for caching/CDN-lookup purposes.
func normalizeEmojiCodepoints(cr []rune) []rune {
	out := make([]rune, 0, len(cr))
	for _, r := range cr {
		if r == variationSelector16 {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return cr
	}
	return out
}

func appendKey(out []imagekey.Key, key imagekey.Key, noSummation bool, seen map[string]struct{}) []imagekey.Key {
	if noSummation {
		fp := key.Fingerprint()
		if _, dup := seen[fp]; dup {
			return out
		}
		seen[fp] = struct{}{}
	}
	return append(out, key)
}

// MergeForbiddenEmotes returns the hard-coded default forbidden emote ids
// merged with operator-supplied extras, as a lookup set.
func MergeForbiddenEmotes(extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(DefaultForbiddenEmotes)+len(extra))
	for _, id := range DefaultForbiddenEmotes {
		set[id] = struct{}{}
	}
	for _, id := range extra {
		set[id] = struct{}{}
	}
	return set
}

// ForbiddenUsersSet lowercases a list of usernames into a lookup set.
func ForbiddenUsersSet(users []string) map[string]struct{} {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		set[strings.ToLower(u)] = struct{}{}
	}
	return set
}

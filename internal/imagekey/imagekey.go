// Package imagekey defines the tagged value that identifies one addressable
// image: a Twitch emote or a Unicode emoji. Construction-time validation and
// pure derivation functions replace the dynamic-dispatch-on-type approach the
// teacher codebase used for its WebRTC control messages.
package imagekey

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the two ImageKey variants.
type Kind uint8

const (
	KindTwitchEmote Kind = iota
	KindEmoji
)

// Theme and Scale are the Twitch emote CDN axes.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type Scale string

const (
	Scale1x Scale = "1.0"
	Scale2x Scale = "2.0"
	Scale3x Scale = "3.0"
)

type Format string

const (
	FormatStatic   Format = "static"
	FormatAnimated Format = "animated"
)

// Key is the tagged ImageKey value. Because it holds the emoji code-point
// slice, Key is not comparable with == and cannot be a map key; structural
// identity is expressed by Fingerprint, which is what cache filenames and
// the ranking buffer index use.
type Key struct {
	kind Kind

	// TwitchEmote fields.
	emoteID string
	theme   Theme
	scale   Scale
	format  Format

	// Emoji fields: canonical code-point sequence after ZWJ normalization.
	codepoints []rune
}

// NewTwitchEmote validates and constructs a TwitchEmote key, applying the
// documented defaults (dark theme, 3.0 scale, animated format) for zero
// values.
func NewTwitchEmote(id string, theme Theme, scale Scale, format Format) (Key, error) {
	if strings.TrimSpace(id) == "" {
		return Key{}, fmt.Errorf("imagekey: twitch emote id is required")
	}
	if theme == "" {
		theme = ThemeDark
	}
	if theme != ThemeLight && theme != ThemeDark {
		return Key{}, fmt.Errorf("imagekey: invalid theme %q", theme)
	}
	if scale == "" {
		scale = Scale3x
	}
	switch scale {
	case Scale1x, Scale2x, Scale3x:
	default:
		return Key{}, fmt.Errorf("imagekey: invalid scale %q", scale)
	}
	if format == "" {
		format = FormatAnimated
	}
	if format != FormatStatic && format != FormatAnimated {
		return Key{}, fmt.Errorf("imagekey: invalid format %q", format)
	}
	return Key{kind: KindTwitchEmote, emoteID: id, theme: theme, scale: scale, format: format}, nil
}

// NewEmoji constructs an Emoji key from a non-empty normalized code-point
// sequence.
func NewEmoji(codepoints []rune) (Key, error) {
	if len(codepoints) == 0 {
		return Key{}, fmt.Errorf("imagekey: emoji codepoint sequence is required")
	}
	cp := make([]rune, len(codepoints))
	copy(cp, codepoints)
	return Key{kind: KindEmoji, codepoints: cp}, nil
}

func (k Key) Kind() Kind { return k.kind }

// EmoteID returns the Twitch emote id. Empty for Emoji keys.
func (k Key) EmoteID() string { return k.emoteID }

// Codepoints returns a copy of the emoji code-point sequence. Empty for
// TwitchEmote keys.
func (k Key) Codepoints() []rune {
	if k.kind != KindEmoji {
		return nil
	}
	cp := make([]rune, len(k.codepoints))
	copy(cp, k.codepoints)
	return cp
}

// Fingerprint returns a stable, filesystem-safe string identity for the
// key. It is used as the cache filename stem and as the Ranking Buffer's
// index key.
func (k Key) Fingerprint() string {
	switch k.kind {
	case KindTwitchEmote:
		return fmt.Sprintf("emote_%s_%s_%s_%s", k.emoteID, k.theme, strings.ReplaceAll(string(k.scale), ".", ""), k.format)
	case KindEmoji:
		var b strings.Builder
		b.WriteString("emoji")
		for _, r := range k.codepoints {
			b.WriteByte('_')
			b.WriteString(strconv.FormatInt(int64(r), 16))
		}
		return b.String()
	default:
		return "unknown"
	}
}

// twitchEmoteCDNTemplate mirrors Twitch's documented static CDN layout:
// https://static-cdn.jtvnw.net/emoticons/v2/<id>/<format>/<theme>/<scale>
const twitchEmoteCDNTemplate = "https://static-cdn.jtvnw.net/emoticons/v2/%s/%s/%s/%s"

// twemojiCDNTemplate mirrors the Twemoji bitmap CDN layout, keyed by the
// lowercase hex code-point sequence joined with hyphens.
const twemojiCDNTemplate = "https://cdn.jsdelivr.net/gh/jdecked/twemoji@latest/assets/72x72/%s.png"

// SourceURL derives the deterministic CDN URL this key's bytes live at.
func (k Key) SourceURL() string {
	switch k.kind {
	case KindTwitchEmote:
		return fmt.Sprintf(twitchEmoteCDNTemplate, k.emoteID, k.format, k.theme, k.scale)
	case KindEmoji:
		parts := make([]string, len(k.codepoints))
		for i, r := range k.codepoints {
			parts[i] = strconv.FormatInt(int64(r), 16)
		}
		return fmt.Sprintf(twemojiCDNTemplate, strings.Join(parts, "-"))
	default:
		return ""
	}
}

// ContentType returns the expected MIME type for the fetched bytes.
// Twitch animated emotes are GIF; everything else (static emotes, Twemoji
// PNGs) is PNG.
func (k Key) ContentType() string {
	if k.kind == KindTwitchEmote && k.format == FormatAnimated {
		return "image/gif"
	}
	return "image/png"
}

// Extension returns the canonical file extension matching ContentType.
func (k Key) Extension() string {
	if k.ContentType() == "image/gif" {
		return "gif"
	}
	return "png"
}

func (k Key) String() string {
	switch k.kind {
	case KindTwitchEmote:
		return fmt.Sprintf("TwitchEmote{%s}", k.emoteID)
	case KindEmoji:
		return fmt.Sprintf("Emoji{%s}", k.Fingerprint())
	default:
		return "ImageKey{?}"
	}
}

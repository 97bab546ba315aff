package analyzer

import "unicode"

// Unicode emoji building blocks the grapheme classifier needs, per spec
// §4.D.2 (ZWJ sequences, variation selectors, skin-tone modifiers,
// keycaps). No emoji-data library appears anywhere in the example pack,
// so these ranges are expressed directly against unicode.RangeTable the
// way the standard library itself does for tables like unicode.Han — see
// DESIGN.md for why this one corner is stdlib rather than third-party.
const (
	zwj                 = 0x200D
	variationSelector16 = 0xFE0F
	combiningEnclosing  = 0x20E3 // combines with 0-9, #, * for "keycap" emoji
	regionalIndicatorLo = 0x1F1E6
	regionalIndicatorHi = 0x1F1FF
	skinToneLo          = 0x1F3FB
	skinToneHi          = 0x1F3FF
)

var emojiRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x203C, Hi: 0x3299, Stride: 1}, // dingbats / misc symbols band containing early emoji
	},
	R32: []unicode.Range32{
		{Lo: 0x1F000, Hi: 0x1FAFF, Stride: 1}, // mahjong tiles through Symbols and Pictographs Extended-A
	},
}

func isRegionalIndicator(r rune) bool {
	return r >= regionalIndicatorLo && r <= regionalIndicatorHi
}

func isSkinTone(r rune) bool {
	return r >= skinToneLo && r <= skinToneHi
}

func containsRune(rs []rune, want rune) bool {
	for _, r := range rs {
		if r == want {
			return true
		}
	}
	return false
}

// classifyEmojiCluster reports whether an already-segmented extended
// grapheme cluster (as produced by uniseg, which already applies UAX #29's
// emoji-aware rules GB9c/GB11/GB12/GB13) represents one emoji occurrence,
// covering:
//   - a plain emoji-range code point, optionally followed by a variation
//     selector and/or skin-tone modifier,
//   - a ZWJ sequence joining two or more emoji-range code points (family,
//     profession, etc. — spec requires these be emitted as one token),
//   - a keycap sequence (digit/#/* + U+20E3, optionally with VS16),
//   - a paired regional-indicator flag.
func classifyEmojiCluster(runes []rune) bool {
	if len(runes) == 0 {
		return false
	}
	r0 := runes[0]

	switch {
	case (r0 >= '0' && r0 <= '9') || r0 == '#' || r0 == '*':
		return containsRune(runes[1:], combiningEnclosing)
	case isRegionalIndicator(r0):
		return len(runes) >= 2 && isRegionalIndicator(runes[1])
	case unicode.Is(emojiRanges, r0):
		return true
	default:
		return false
	}
}

// utf16Len returns how many UTF-16 code units r occupies: 1, or 2 for
// characters outside the Basic Multilingual Plane (surrogate pairs) —
// this is the counting convention Twitch's `emotes` tag indices use.
func utf16Len(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

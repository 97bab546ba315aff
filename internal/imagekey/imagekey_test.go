package imagekey

import "testing"

func TestNewTwitchEmoteDefaults(t *testing.T) {
	k, err := NewTwitchEmote("25", "", "", "")
	if err != nil {
		t.Fatalf("NewTwitchEmote: %v", err)
	}
	if k.Kind() != KindTwitchEmote {
		t.Errorf("Kind() = %v, want KindTwitchEmote", k.Kind())
	}
	if got, want := k.SourceURL(), "https://static-cdn.jtvnw.net/emoticons/v2/25/animated/dark/3.0"; got != want {
		t.Errorf("SourceURL() = %q, want %q", got, want)
	}
	if got, want := k.ContentType(), "image/gif"; got != want {
		t.Errorf("ContentType() = %q, want %q", got, want)
	}
}

func TestNewTwitchEmoteRejectsEmptyID(t *testing.T) {
	if _, err := NewTwitchEmote("", "", "", ""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestNewTwitchEmoteRejectsInvalidAxis(t *testing.T) {
	if _, err := NewTwitchEmote("25", Theme("sepia"), "", ""); err == nil {
		t.Fatal("expected error for invalid theme")
	}
	if _, err := NewTwitchEmote("25", "", Scale("4.0"), ""); err == nil {
		t.Fatal("expected error for invalid scale")
	}
	if _, err := NewTwitchEmote("25", "", "", Format("jpeg")); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestNewEmojiRejectsEmpty(t *testing.T) {
	if _, err := NewEmoji(nil); err == nil {
		t.Fatal("expected error for empty codepoint sequence")
	}
}

func TestFingerprintStable(t *testing.T) {
	a, _ := NewTwitchEmote("25", ThemeDark, Scale3x, FormatAnimated)
	b, _ := NewTwitchEmote("25", ThemeDark, Scale3x, FormatAnimated)
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprints differ for identical keys: %q vs %q", a.Fingerprint(), b.Fingerprint())
	}

	c, _ := NewTwitchEmote("25", ThemeLight, Scale3x, FormatAnimated)
	if a.Fingerprint() == c.Fingerprint() {
		t.Errorf("fingerprints collide for different themes")
	}
}

func TestEmojiSourceURL(t *testing.T) {
	k, err := NewEmoji([]rune{0x1F600})
	if err != nil {
		t.Fatalf("NewEmoji: %v", err)
	}
	if got, want := k.SourceURL(), "https://cdn.jsdelivr.net/gh/jdecked/twemoji@latest/assets/72x72/1f600.png"; got != want {
		t.Errorf("SourceURL() = %q, want %q", got, want)
	}
	if got, want := k.Extension(), "png"; got != want {
		t.Errorf("Extension() = %q, want %q", got, want)
	}
}

func TestCodepointsIsACopy(t *testing.T) {
	k, _ := NewEmoji([]rune{0x1F600, 0x200D})
	cp := k.Codepoints()
	cp[0] = 0
	if k.Codepoints()[0] == 0 {
		t.Fatal("Codepoints() leaked internal slice")
	}
}

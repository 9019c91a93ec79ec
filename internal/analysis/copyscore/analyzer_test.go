package copyscore

import (
	"strings"
	"testing"
)

func TestAnalyzeStrongSocialPost(t *testing.T) {
	text := "Our new Neon Nights collection just dropped. Glowing city art on mugs, tees and hoodies, made for night owls who love retro vibes. Shop now before the first run sells out. #neonart #retrovibes #merch"
	a := Analyze(text, KindSocial)
	if a.Score < 8 {
		t.Fatalf("expected a high score, got %.1f (%v)", a.Score, a.Suggestions)
	}
	if !a.HasCTA {
		t.Fatalf("expected call to action to be detected")
	}
	if a.Hashtags != 3 {
		t.Fatalf("expected 3 hashtags, got %d", a.Hashtags)
	}
}

func TestAnalyzeWeakSocialPost(t *testing.T) {
	a := Analyze("NEW STUFF!!!! BUY IT!!!", KindSocial)
	if a.Score >= 5 {
		t.Fatalf("expected a low score, got %.1f", a.Score)
	}
	if len(a.Suggestions) < 3 {
		t.Fatalf("expected several suggestions, got %v", a.Suggestions)
	}
}

func TestAnalyzeLongFormStructure(t *testing.T) {
	body := strings.Repeat("Design notes about the collection and its story. ", 40)
	flat := Analyze(body, KindLongForm)
	structured := Analyze("## Intro\n"+body+"\n- one\n- two\n\nLearn more in the shop.", KindLongForm)
	if structured.Score <= flat.Score {
		t.Fatalf("expected structure and CTA to raise the score: %.1f <= %.1f", structured.Score, flat.Score)
	}
}

func TestDetectTone(t *testing.T) {
	cases := map[string]Tone{
		"Hurry, limited stock, last chance to order today only": Urgent,
		"An exclusive, handcrafted piece of timeless elegance":  Luxury,
		"A plain sentence about mugs":                           Neutral,
	}
	for text, want := range cases {
		if got := Analyze(text, KindSocial).Tone; got != want {
			t.Fatalf("%q: expected tone %s, got %s", text, want, got)
		}
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	a := Analyze("   ", KindProduct)
	if a.Score != 0 || len(a.Suggestions) != 1 {
		t.Fatalf("unexpected assessment for empty copy: %+v", a)
	}
}

// Package copyscore rates marketing copy with simple, deterministic rules.
package copyscore

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Tone is the dominant register of a piece of copy.
type Tone string

const (
	Neutral       Tone = "neutral"
	Professional  Tone = "professional"
	Friendly      Tone = "friendly"
	Playful       Tone = "playful"
	Urgent        Tone = "urgent"
	Luxury        Tone = "luxury"
	Inspirational Tone = "inspirational"
)

// Kind selects the length and hashtag expectations.
type Kind string

const (
	KindSocial   Kind = "social"
	KindProduct  Kind = "product"
	KindLongForm Kind = "long"
)

// Assessment is the outcome of Analyze. Score is on a 0-10 scale.
type Assessment struct {
	Score       float64  `json:"score"`
	Tone        Tone     `json:"tone"`
	Suggestions []string `json:"suggestions"`
	Words       int      `json:"words"`
	Hashtags    int      `json:"hashtags"`
	HasCTA      bool     `json:"hasCallToAction"`
}

type lengthRange struct{ min, max int }

var idealLength = map[Kind]lengthRange{
	KindSocial:   {15, 80},
	KindProduct:  {40, 250},
	KindLongForm: {150, 1500},
}

var toneBuckets = map[Tone][]string{
	Professional:  {"solution", "quality", "reliable", "expertise", "strategy", "results", "professional", "industry", "proven"},
	Friendly:      {"you'll love", "we", "our", "together", "community", "welcome", "thanks", "friends", "family", "cozy"},
	Playful:       {"fun", "oops", "yay", "lol", "vibes", "obsessed", "totally", "cute", "silly", "party"},
	Urgent:        {"now", "today only", "limited", "hurry", "last chance", "ends soon", "don't miss", "while supplies last", "act fast"},
	Luxury:        {"exclusive", "premium", "luxury", "elegant", "crafted", "timeless", "refined", "handcrafted", "bespoke"},
	Inspirational: {"dream", "inspire", "journey", "believe", "create", "imagine", "empower", "passion", "story"},
}

var callsToAction = []string{
	"shop now", "buy now", "order now", "get yours", "shop the", "add to cart", "sign up", "subscribe",
	"learn more", "discover", "visit", "click", "tap the link", "link in bio", "join", "grab yours", "pre-order",
}

var (
	hashtagPattern   = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	structurePattern = regexp.MustCompile(`(?m)^\s*([-*•]|\d+[.)]|#{1,6}\s|<h[1-6]|<li)`)
)

// Analyze scores text as copy of the given kind.
func Analyze(text string, kind Kind) Assessment {
	if _, ok := idealLength[kind]; !ok {
		kind = KindSocial
	}
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	words := len(strings.Fields(trimmed))
	hashtags := len(hashtagPattern.FindAllString(trimmed, -1))

	a := Assessment{Tone: detectTone(lower, trimmed), Words: words, Hashtags: hashtags, Suggestions: []string{}}
	if words == 0 {
		a.Suggestions = append(a.Suggestions, "The copy is empty.")
		return a
	}

	score := 5.0
	want := idealLength[kind]
	switch {
	case words < want.min:
		score -= 1.5
		a.Suggestions = append(a.Suggestions, fmt.Sprintf("Expand the copy: %d words, aim for at least %d.", words, want.min))
	case words > want.max:
		score -= 1
		a.Suggestions = append(a.Suggestions, fmt.Sprintf("Tighten the copy: %d words, aim for at most %d.", words, want.max))
	default:
		score += 2
	}

	a.HasCTA = containsAny(lower, callsToAction)
	if a.HasCTA {
		score += 1.5
	} else {
		a.Suggestions = append(a.Suggestions, `End with a clear call to action such as "Shop now".`)
	}

	if kind == KindSocial {
		switch {
		case hashtags == 0:
			a.Suggestions = append(a.Suggestions, "Add two to five relevant hashtags.")
		case hashtags <= 5:
			score += 1
		case hashtags > 10:
			score -= 1
			a.Suggestions = append(a.Suggestions, fmt.Sprintf("Cut hashtags: %d is too many, keep the best five.", hashtags))
		}
	}

	if kind == KindLongForm {
		if len(structurePattern.FindAllString(trimmed, -1)) >= 3 {
			score += 1
		} else {
			a.Suggestions = append(a.Suggestions, "Break the text into headed sections or lists.")
		}
	}

	if strings.Count(trimmed, "!") > 3 {
		score -= 0.5
		a.Suggestions = append(a.Suggestions, "Use fewer exclamation marks.")
	}
	if shoutingRatio(trimmed) > 0.3 {
		score -= 0.5
		a.Suggestions = append(a.Suggestions, "Avoid writing whole words in capitals.")
	}

	a.Score = math.Round(math.Max(0, math.Min(10, score))*10) / 10
	return a
}

func detectTone(lower, original string) Tone {
	scores := make(map[Tone]int)
	for tone, keywords := range toneBuckets {
		for _, word := range keywords {
			if strings.Contains(lower, word) {
				scores[tone] += 3
			}
		}
	}
	if n := strings.Count(original, "!"); n >= 2 {
		scores[Playful] += n
	}

	best, bestScore := Neutral, 0
	// fixed order keeps ties deterministic
	for _, tone := range []Tone{Urgent, Luxury, Professional, Inspirational, Playful, Friendly} {
		if scores[tone] > bestScore {
			best, bestScore = tone, scores[tone]
		}
	}
	return best
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// shoutingRatio is the share of words of three or more letters written in capitals.
func shoutingRatio(text string) float64 {
	var total, upper int
	for _, w := range strings.Fields(text) {
		letters, caps := 0, 0
		for _, r := range w {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					caps++
				}
			}
		}
		if letters < 3 {
			continue
		}
		total++
		if caps == letters {
			upper++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(upper) / float64(total)
}

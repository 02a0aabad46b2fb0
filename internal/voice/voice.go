// Package voice maps a speaker's nationality and gender to a synthesis voice.
package voice

import (
	"sort"
	"strings"
)

const (
	Female = "female"
	Male   = "male"
)

var byNationality = map[string]map[string]string{
	"india": {
		Female: "en-IN-NeerjaNeural",
		Male:   "en-IN-PrabhatNeural",
	},
}

var defaults = map[string]string{
	Female: "en-US-JennyNeural",
	Male:   "en-US-GuyNeural",
}

// Select returns the voice id for the given nationality and gender. It never
// fails: unknown nationalities use the defaults and unknown genders use the
// default female voice.
func Select(nationality, gender string) string {
	nat := strings.ToLower(strings.TrimSpace(nationality))
	g := strings.ToLower(strings.TrimSpace(gender))

	if table, ok := byNationality[nat]; ok {
		if v, ok := table[g]; ok {
			return v
		}
	}
	if v, ok := defaults[g]; ok {
		return v
	}
	return defaults[Female]
}

// Entry is one row of the voice table.
type Entry struct {
	Nationality string
	Gender      string
	Voice       string
}

// Voices lists every configured voice, defaults first, sorted for display.
func Voices() []Entry {
	var out []Entry
	for _, g := range []string{Female, Male} {
		out = append(out, Entry{Nationality: "default", Gender: g, Voice: defaults[g]})
	}

	nats := make([]string, 0, len(byNationality))
	for n := range byNationality {
		nats = append(nats, n)
	}
	sort.Strings(nats)
	for _, n := range nats {
		for _, g := range []string{Female, Male} {
			if v, ok := byNationality[n][g]; ok {
				out = append(out, Entry{Nationality: n, Gender: g, Voice: v})
			}
		}
	}
	return out
}

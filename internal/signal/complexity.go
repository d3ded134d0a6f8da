// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package signal

import (
	"regexp"
	"strings"
)

// complexityPattern pairs a compiled pattern with the level it implies.
type complexityPattern struct {
	level   Complexity
	pattern *regexp.Regexp
}

// complexityPatterns is evaluated top to bottom; the first match wins.
// Complex patterns come first so that a reference back into the
// conversation outranks the command's surface form.
// DO NOT REORDER: the groups encode precedence Complex > Moderate > Simple.
var complexityPatterns = compilePatterns([]struct {
	level    Complexity
	patterns []string
}{
	{ComplexityComplex, []string{
		`compare|difference between`,
		`explain|elaborate on`,
		`analy[sz]e|predict|forecast`,
		`summarize|synopsis|summary of`,
		`relationship between`,
		`what would happen if`,
		`history of|evolution of`,
		// Anaphora. Whole words only, so "city" or "once" do not count.
		`\b(that|this|it|one|them|those)\b`,
		`like i mentioned|as i said|\bearlier\b|\bbefore\b`,
	}},
	{ComplexityModerate, []string{
		`what.*weather`,
		`what.*meeting`,
		`how.*get to`,
		`find.*near me`,
		`set.*reminder|set.*alarm`,
		`send.*message|send.*email`,
		`search for`,
		`calculate|convert`,
		`who is|what is|how (do|does|did)`,
	}},
	{ComplexitySimple, []string{
		// Shadowed by the anaphora pattern above; never decides on its own.
		`^what time is it`,
		`^how are you`,
		`^(hello|hi)\b`,
		`^thank you|^thanks\b`,
		`^(stop|cancel|exit)\b`,
		`^(yes|no)\b`,
		`^turn (on|off)\b`,
		`^(play|pause|next|previous)\b`,
		`^volume (up|down)\b`,
	}},
})

func compilePatterns(groups []struct {
	level    Complexity
	patterns []string
}) []complexityPattern {
	var out []complexityPattern
	for _, g := range groups {
		for _, p := range g.patterns {
			out = append(out, complexityPattern{level: g.level, pattern: regexp.MustCompile(p)})
		}
	}
	return out
}

// ClassifyComplexity estimates how hard a command is from its text alone.
//
// Matching is case-insensitive. Text that matches nothing, including the
// empty string, is Moderate. The result is never ComplexityUnknown.
func ClassifyComplexity(text string) Complexity {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return ComplexityModerate
	}
	for _, cp := range complexityPatterns {
		if cp.pattern.MatchString(lower) {
			return cp.level
		}
	}
	return ComplexityModerate
}

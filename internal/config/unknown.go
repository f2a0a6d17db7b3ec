package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"portal": {
		"username", "password", "uuid", "base_url", "timezone",
		"user_agent", "max_challenge_attempts", "timeout",
	},
	"calendar": {
		"calendar_id", "credentials_file", "cancelled_suffix",
		"location_placeholder", "title_case_subjects", "requests_per_second",
	},
	"sync": {
		"days_to_check", "dry_run", "schedule",
		"max_clean_runs", "max_consecutive_failures", "max_auth_failures", "max_runs",
	},
	"logging": {"log_level"},
}

// knownSections is the sorted list of section names, sorted for
// deterministic suggestions when two candidates have the same distance.
var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	// An unknown table also lists each of its keys; report it once.
	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		if _, known := knownKeys[key[0]]; !known {
			if reported[key[0]] {
				continue
			}

			reported[key[0]] = true
		}

		if err := unknownKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		return suggest(fmt.Sprintf("unknown config section or key %q", section), section, knownSections)
	}

	if len(key) < 2 {
		return nil
	}

	return suggest(fmt.Sprintf("unknown key %q in [%s]", key[1], section), key[1], keys)
}

func suggest(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s: did you mean %q?", msg, s)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using a
// single-row buffer pair.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

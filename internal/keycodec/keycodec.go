// Package keycodec canonicalizes the framework/control/mapping composite
// keys used throughout the pipeline (§3, §4.1). All functions are pure and
// side-effect free.
package keycodec

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

var (
	frameworkKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+#[A-Za-z0-9._-]+$`)
	controlKeyPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]+#[A-Za-z0-9._-]+#.+$`)
)

// ParseFrameworkKey splits "<frameworkName>#<version>" and validates it
// against the §3 regex.
func ParseFrameworkKey(frameworkKey string) (name, version string, err error) {
	if !frameworkKeyPattern.MatchString(frameworkKey) {
		return "", "", fmt.Errorf("%w: frameworkKey %q", pipelineerr.ErrMalformedKey, frameworkKey)
	}
	idx := strings.IndexByte(frameworkKey, '#')
	return frameworkKey[:idx], frameworkKey[idx+1:], nil
}

// ParseControlKey splits "<frameworkKey>#<controlId>" and validates it
// against the §3 regex. controlId may contain any non-empty UTF-8 except
// newline and '|'.
func ParseControlKey(controlKey string) (frameworkKey, controlID string, err error) {
	if !controlKeyPattern.MatchString(controlKey) {
		return "", "", fmt.Errorf("%w: controlKey %q", pipelineerr.ErrMalformedKey, controlKey)
	}
	// frameworkKey is itself "name#version"; controlId is everything after
	// the second '#'.
	firstHash := strings.IndexByte(controlKey, '#')
	secondHash := strings.IndexByte(controlKey[firstHash+1:], '#')
	if secondHash < 0 {
		return "", "", fmt.Errorf("%w: controlKey %q", pipelineerr.ErrMalformedKey, controlKey)
	}
	secondHash += firstHash + 1
	frameworkKey = controlKey[:secondHash]
	controlID = controlKey[secondHash+1:]
	if controlID == "" || strings.ContainsAny(controlID, "\n|") {
		return "", "", fmt.Errorf("%w: controlKey %q", pipelineerr.ErrMalformedKey, controlKey)
	}
	if _, _, err := ParseFrameworkKey(frameworkKey); err != nil {
		return "", "", fmt.Errorf("%w: controlKey %q", pipelineerr.ErrMalformedKey, controlKey)
	}
	return frameworkKey, controlID, nil
}

// BuildControlKey assembles "<frameworkKey>#<controlId>", validating both
// inputs first.
func BuildControlKey(frameworkKey, controlID string) (string, error) {
	if _, _, err := ParseFrameworkKey(frameworkKey); err != nil {
		return "", err
	}
	if controlID == "" || strings.ContainsAny(controlID, "\n|") {
		return "", fmt.Errorf("%w: controlId %q", pipelineerr.ErrMalformedKey, controlID)
	}
	key := frameworkKey + "#" + controlID
	if _, _, err := ParseControlKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// BuildMappingKey assembles a mapping key from two control keys. It sorts
// the pair lexicographically before joining with '|', so it is commutative
// by construction (P3): BuildMappingKey(a, b) == BuildMappingKey(b, a).
func BuildMappingKey(controlKeyA, controlKeyB string) (string, error) {
	if _, _, err := ParseControlKey(controlKeyA); err != nil {
		return "", err
	}
	if _, _, err := ParseControlKey(controlKeyB); err != nil {
		return "", err
	}
	pair := []string{controlKeyA, controlKeyB}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1], nil
}

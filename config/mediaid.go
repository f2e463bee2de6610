package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseMediaID extracts the numeric live id from operator input: either the
// bare digits or a share URL whose path ends in /viewer/<digits>.
func ParseMediaID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty media id")
	}
	if isDigits(s) {
		return s, nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("media id %q is neither digits nor a URL", s)
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segs) - 1; i > 0; i-- {
		if segs[i-1] == "viewer" && isDigits(segs[i]) {
			return segs[i], nil
		}
	}
	// Fall back to a trailing numeric segment.
	if last := segs[len(segs)-1]; isDigits(last) {
		return last, nil
	}
	return "", fmt.Errorf("no live id found in %q", s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

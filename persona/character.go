package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCharacter is the personality preamble used when no character file
// is configured.
const DefaultCharacter = `You are a friendly chat participant in a live stream chat.
Keep replies friendly, interesting, and brief (under 100 characters when possible).
Avoid complex vocabulary or sentence structures.
You may use emojis to sound approachable.
Never introduce yourself or mention being an AI; reply like a regular viewer.
Never mention that you can see recent messages, just respond naturally.`

// LoadCharacter reads the personality preamble from a markdown file,
// stripping headers and list markers so the result reads as plain prompt
// prose. A missing or empty path yields DefaultCharacter.
func LoadCharacter(path string) (string, error) {
	if path == "" {
		return DefaultCharacter, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultCharacter, nil
	}
	if err != nil {
		return "", fmt.Errorf("read character file: %w", err)
	}
	s := stripMarkdown(string(data))
	if s == "" {
		return DefaultCharacter, nil
	}
	return s, nil
}

// SaveCharacter writes a new preamble to path.
func SaveCharacter(path, prompt string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir character dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		return fmt.Errorf("write character file: %w", err)
	}
	return nil
}

func stripMarkdown(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = strings.TrimPrefix(trimmed, "- ")
		lines = append(lines, trimmed)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

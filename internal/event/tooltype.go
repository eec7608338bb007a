package event

import "strings"

// toolTypePatterns maps substrings of upstream tool names onto normalized
// categories. Order matters: earlier entries win on overlapping names.
var toolTypePatterns = []struct {
	substring string
	category  string
}{
	{"search", "search"},
	{"browse", "browse"},
	{"crawl", "browse"},
	{"web", "browse"},
	{"python", "python"},
	{"code_interpreter", "python"},
	{"bash", "bash"},
	{"shell", "bash"},
	{"terminal", "bash"},
	{"file", "file"},
	{"read", "file"},
	{"write", "file"},
}

// NormalizeToolType maps a free-text upstream tool name onto the closed
// category set {search, browse, python, bash, file}. Unmatched names keep
// their lowercased original so nothing is dropped.
func NormalizeToolType(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return "other"
	}

	for _, p := range toolTypePatterns {
		if strings.Contains(name, p.substring) {
			return p.category
		}
	}

	return name
}

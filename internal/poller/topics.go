package poller

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Topic extraction bounds. Fewer entries means the generator answered with
// prose instead of a list; more means line splitting picked up noise.
const (
	minTopics = 5
	maxTopics = 15
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")
	listPrefixPattern  = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// ExtractTopics parses the topics task's final output. The generator has been
// observed returning a raw JSON array, a JSON array fenced in a markdown code
// block, or a numbered/bulleted plain-text list; almost-valid JSON is run
// through jsonrepair before giving up on it. Extraction succeeds only when it
// yields between 5 and 15 plausible entries.
func ExtractTopics(output string) ([]string, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, fmt.Errorf("empty output")
	}

	candidates := []string{trimmed}
	if match := fencedBlockPattern.FindStringSubmatch(trimmed); match != nil {
		candidates = append([]string{strings.TrimSpace(match[1])}, candidates...)
	}

	for _, candidate := range candidates {
		if topics, ok := topicsFromJSON(candidate); ok {
			return boundedTopics(topics)
		}
	}

	// Plain text list fallback.
	topics := topicsFromLines(trimmed)
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topic list found in output")
	}
	return boundedTopics(topics)
}

// topicsFromJSON tries to read candidate as a JSON array of topic strings,
// repairing almost-JSON first when the direct parse fails.
func topicsFromJSON(candidate string) ([]string, bool) {
	if !strings.HasPrefix(candidate, "[") && !strings.HasPrefix(candidate, "{") {
		return nil, false
	}

	var raw []any
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return nil, false
		}
	}

	topics := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				topics = append(topics, trimmed)
			}
		case map[string]any:
			// Some generator versions wrap each topic in an object.
			for _, key := range []string{"title", "topic", "name"} {
				if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
					topics = append(topics, strings.TrimSpace(s))
					break
				}
			}
		}
	}

	if len(topics) == 0 {
		return nil, false
	}
	return topics, true
}

// topicsFromLines treats the output as a bulleted or numbered list, one topic
// per line.
func topicsFromLines(output string) []string {
	var topics []string
	for _, line := range strings.Split(output, "\n") {
		line = listPrefixPattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Prose lead-ins ("Here are the topics:") are not topics.
		if strings.HasSuffix(line, ":") {
			continue
		}
		topics = append(topics, line)
	}
	return topics
}

func boundedTopics(topics []string) ([]string, error) {
	if len(topics) < minTopics || len(topics) > maxTopics {
		return nil, fmt.Errorf("extracted %d topics, want between %d and %d", len(topics), minTopics, maxTopics)
	}
	return topics, nil
}

package poller

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"deckwork/internal/event"
)

// rawSlide mirrors one slide object in the generator's accumulated output.
// Field names vary between generator versions, so alternates are collected
// and merged after decode.
type rawSlide struct {
	ID         string `json:"id"`
	Index      *int   `json:"index"`
	OrderIndex *int   `json:"order_index"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Body       string `json:"body"`
	Layout     string `json:"layout"`
}

// ParseSlidePreviews extracts partial slides from the accumulated output of a
// running slides task. The output is untrusted and frequently truncated mid
// stream, so it is repaired before decoding; anything unusable yields nil
// rather than an error, since previews are best-effort.
func ParseSlidePreviews(output string) []event.SlidePreview {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil
	}

	if match := fencedBlockPattern.FindStringSubmatch(trimmed); match != nil {
		trimmed = strings.TrimSpace(match[1])
	}
	if !strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	raw := decodeRawSlides(trimmed)
	if len(raw) == 0 {
		return nil
	}

	previews := make([]event.SlidePreview, 0, len(raw))
	for i, slide := range raw {
		title := strings.TrimSpace(slide.Title)
		content := strings.TrimSpace(slide.Content)
		if content == "" {
			content = strings.TrimSpace(slide.Body)
		}
		if title == "" && content == "" {
			continue
		}

		id := strings.TrimSpace(slide.ID)
		if id == "" {
			id = fmt.Sprintf("slide-%d", i+1)
		}

		orderIndex := i
		if slide.OrderIndex != nil {
			orderIndex = *slide.OrderIndex
		} else if slide.Index != nil {
			orderIndex = *slide.Index
		}

		previews = append(previews, event.SlidePreview{
			ID:         id,
			OrderIndex: orderIndex,
			Title:      title,
			Content:    content,
			Layout:     event.NormalizeLayout(slide.Layout),
		})
	}

	if len(previews) == 0 {
		return nil
	}
	return previews
}

func decodeRawSlides(candidate string) []rawSlide {
	// The payload is either a bare array of slides or an object wrapping one.
	var wrapper struct {
		Slides []rawSlide `json:"slides"`
	}

	try := func(data string) []rawSlide {
		var slides []rawSlide
		if strings.HasPrefix(data, "[") {
			if err := json.Unmarshal([]byte(data), &slides); err == nil {
				return slides
			}
			return nil
		}
		if err := json.Unmarshal([]byte(data), &wrapper); err == nil {
			return wrapper.Slides
		}
		return nil
	}

	if slides := try(candidate); slides != nil {
		return slides
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil
	}
	return try(strings.TrimSpace(repaired))
}

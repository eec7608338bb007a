package event

import "strings"

// Layout is the closed set of slide layouts the client can render.
type Layout string

const (
	LayoutTitleSlide Layout = "title_slide"
	LayoutContent    Layout = "content"
	LayoutTwoColumn  Layout = "two_column"
	LayoutImage      Layout = "image"
	LayoutQuote      Layout = "quote"
)

// layoutAliases maps layout tokens the generator is known to emit onto the
// closed set.
var layoutAliases = map[string]Layout{
	"title_only":   LayoutTitleSlide,
	"title":        LayoutTitleSlide,
	"cover":        LayoutTitleSlide,
	"section":      LayoutTitleSlide,
	"image_text":   LayoutImage,
	"picture":      LayoutImage,
	"text":         LayoutContent,
	"bullet":       LayoutContent,
	"bullets":      LayoutContent,
	"comparison":   LayoutTwoColumn,
	"split":        LayoutTwoColumn,
	"quotation":    LayoutQuote,
	"blockquote":   LayoutQuote,
	"full_content": LayoutContent,
}

// NormalizeLayout maps a free-form layout token from the generator onto the
// closed Layout set. The generator free-texts its layout field and sometimes
// truncates it, so resolution goes exact match, alias table, prefix and
// substring heuristics, then the content default. Never fails.
func NormalizeLayout(raw string) Layout {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return LayoutContent
	}

	switch Layout(token) {
	case LayoutTitleSlide, LayoutContent, LayoutTwoColumn, LayoutImage, LayoutQuote:
		return Layout(token)
	}

	if layout, ok := layoutAliases[token]; ok {
		return layout
	}

	switch {
	case strings.HasPrefix(token, "title"):
		return LayoutTitleSlide
	case strings.Contains(token, "two") || strings.Contains(token, "column"):
		return LayoutTwoColumn
	case strings.Contains(token, "image") || strings.Contains(token, "photo") || strings.Contains(token, "img"):
		return LayoutImage
	case strings.Contains(token, "quote"):
		return LayoutQuote
	}

	return LayoutContent
}

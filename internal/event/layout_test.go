package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLayout(t *testing.T) {
	cases := []struct {
		raw  string
		want Layout
	}{
		{"title_slide", LayoutTitleSlide},
		{"content", LayoutContent},
		{"two_column", LayoutTwoColumn},
		{"image", LayoutImage},
		{"quote", LayoutQuote},
		{"title_only", LayoutTitleSlide},
		{"image_text", LayoutImage},
		{"TITLE_SLIDE", LayoutTitleSlide},
		{"  Quote  ", LayoutQuote},
		{"title_", LayoutTitleSlide},
		{"titlepage", LayoutTitleSlide},
		{"two-col", LayoutTwoColumn},
		{"columns", LayoutTwoColumn},
		{"image_left", LayoutImage},
		{"pull_quote", LayoutQuote},
		{"", LayoutContent},
		{"   ", LayoutContent},
		{"mystery_layout", LayoutContent},
		{"bullets", LayoutContent},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeLayout(tc.raw))
		})
	}
}

func TestNormalizeLayoutAlwaysInClosedSet(t *testing.T) {
	closed := map[Layout]bool{
		LayoutTitleSlide: true,
		LayoutContent:    true,
		LayoutTwoColumn:  true,
		LayoutImage:      true,
		LayoutQuote:      true,
	}

	inputs := []string{
		"", "x", "TITLE", "ti", "ttwo", "colum", "imag", "quo", "フレーム",
		"layout-7", "title_slide_v2", "\t\n", "0", "contentcontentcontent",
	}
	for _, raw := range inputs {
		require.True(t, closed[NormalizeLayout(raw)], "input %q escaped the closed set", raw)
	}
}

func TestNormalizeToolType(t *testing.T) {
	require.Equal(t, "search", NormalizeToolType("WebSearch"))
	require.Equal(t, "browse", NormalizeToolType("page_crawler"))
	require.Equal(t, "python", NormalizeToolType("Python_Executor"))
	require.Equal(t, "bash", NormalizeToolType("run_shell"))
	require.Equal(t, "file", NormalizeToolType("file_reader"))
	require.Equal(t, "other", NormalizeToolType(""))

	// Unmatched names keep the lowercased original.
	require.Equal(t, "calculator", NormalizeToolType("Calculator"))
}

package vt

import (
	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

// runeCellWidth returns the column width of a rune that starts a new
// cell: 1 for narrow, 2 for East Asian Wide and emoji, 0 for a
// continuation rune that arrived with no cell to join.
func runeCellWidth(r rune) int {
	return runewidth.RuneWidth(r)
}

// joinsCluster reports whether r extends the grapheme cluster held by the
// preceding cell. Decided by uniseg's segmentation: r joins when
// cluster+r still forms a single grapheme cluster. This covers combining
// marks, ZWJ sequences, variation selectors, skin-tone modifiers, and
// regional-indicator pairs.
func joinsCluster(cluster string, r rune) bool {
	if cluster == "" {
		return false
	}
	joined := cluster + string(r)
	first, rest, _, _ := uniseg.FirstGraphemeClusterInString(joined, -1)
	return rest == "" && first == joined
}

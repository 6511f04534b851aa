package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letter-verify-server/internal/domain"
)

// reconstruct rebuilds one side of the diff from the edit script
func reconstruct(segments []domain.DiffSegment, keep domain.DiffOperation) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.Operation == domain.DiffEqual || seg.Operation == keep {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

func TestDiffReconstruction(t *testing.T) {
	engine := NewTokenDiffEngine(nil)

	cases := []struct {
		name     string
		original string
		modified string
	}{
		{"word substitution", "The patient was seen today.", "The patient was reviewed today."},
		{"sentence appended", "Plan unchanged.", "Plan unchanged. Repeat echo in 6 months."},
		{"sentence removed", "First line.\nSecond line.\nThird line.", "First line.\nThird line."},
		{"whitespace change", "one  two three", "one two  three"},
		{"complete rewrite", "alpha beta gamma", "delta epsilon"},
		{"empty original", "", "entirely new text"},
		{"empty modified", "old text gone", ""},
		{"both empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			segments := engine.Diff(tc.original, tc.modified)
			assert.Equal(t, tc.original, reconstruct(segments, domain.DiffDelete))
			assert.Equal(t, tc.modified, reconstruct(segments, domain.DiffInsert))
		})
	}
}

func TestDiffIdenticalInputs(t *testing.T) {
	engine := NewTokenDiffEngine(nil)

	segments := engine.Diff("Nothing changed here.", "Nothing changed here.")

	require.Len(t, segments, 1)
	assert.Equal(t, domain.DiffEqual, segments[0].Operation)
	assert.Equal(t, "Nothing changed here.", segments[0].Text)
}

func TestDiffEmptyOriginal(t *testing.T) {
	engine := NewTokenDiffEngine(nil)

	segments := engine.Diff("", "fresh draft")

	require.Len(t, segments, 1)
	assert.Equal(t, domain.DiffInsert, segments[0].Operation)
	assert.Equal(t, "fresh draft", segments[0].Text)
}

func TestDiffMergesConsecutiveOperations(t *testing.T) {
	engine := NewTokenDiffEngine(nil)

	segments := engine.Diff("a b c", "x y z")

	for i := 1; i < len(segments); i++ {
		assert.NotEqual(t, segments[i-1].Operation, segments[i].Operation,
			"adjacent segments must not share an operation")
	}
}

func TestDiffStats(t *testing.T) {
	engine := NewTokenDiffEngine(nil)

	t.Run("single word swap", func(t *testing.T) {
		segments := engine.Diff("a b c", "a x c")
		stats := engine.Stats(segments)

		assert.Equal(t, 1, stats.Additions)
		assert.Equal(t, 1, stats.Deletions)
		assert.Equal(t, 4, stats.TotalWords)
		assert.Equal(t, 50, stats.PercentChanged)
	})

	t.Run("no changes", func(t *testing.T) {
		segments := engine.Diff("same text", "same text")
		stats := engine.Stats(segments)

		assert.Equal(t, 0, stats.Additions)
		assert.Equal(t, 0, stats.Deletions)
		assert.Equal(t, 0, stats.PercentChanged)
	})

	t.Run("empty script", func(t *testing.T) {
		stats := engine.Stats(nil)
		assert.Equal(t, domain.DiffStats{}, stats)
	})
}

package linebuffer

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/tailexplorer/internal/model"
)

func line(s string) model.LogLine { return model.LogLine{Source: "src", Text: s} }

func texts(lines []model.LogLine) []string { return model.Texts(lines) }

func TestBuffer_TruncatesOnlyWhenExceedingMax(t *testing.T) {
	t.Parallel()

	b := New(5, 2)
	for i := 1; i <= 5; i++ {
		b.Append(line(strconv.Itoa(i)))
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, texts(b.Snapshot()))

	b.Append(line("6"))
	assert.Equal(t, []string{"5", "6"}, texts(b.Snapshot()))

	b.Append(line("7"))
	assert.Equal(t, []string{"5", "6", "7"}, texts(b.Snapshot()))
}

func TestBuffer_LengthNeverExceedsMax(t *testing.T) {
	t.Parallel()

	const maxLines, keep = 50, 7
	b := New(maxLines, keep)
	for i := 0; i < 1000; i++ {
		b.Append(line(strconv.Itoa(i)))
		require.LessOrEqual(t, b.Len(), maxLines, "after append %d", i)
	}

	// Order is preserved across truncations.
	got := texts(b.Snapshot())
	for i := 1; i < len(got); i++ {
		prev, _ := strconv.Atoi(got[i-1])
		cur, _ := strconv.Atoi(got[i])
		assert.Equal(t, prev+1, cur)
	}
	assert.Equal(t, "999", got[len(got)-1])
}

func TestBuffer_RecentBounds(t *testing.T) {
	t.Parallel()

	b := New(10, 5)
	assert.Empty(t, b.Recent(3))

	b.AppendAll([]model.LogLine{line("a"), line("b"), line("c")})

	assert.Equal(t, []string{"b", "c"}, texts(b.Recent(2)))
	assert.Equal(t, []string{"a", "b", "c"}, texts(b.Recent(100)))
	assert.Empty(t, b.Recent(0))
	assert.Empty(t, b.Recent(-1))
}

func TestBuffer_RecentReturnsCopy(t *testing.T) {
	t.Parallel()

	b := New(10, 5)
	b.Append(line("a"))
	got := b.Recent(1)
	got[0].Text = "mutated"
	assert.Equal(t, "a", b.Recent(1)[0].Text)
}

func TestNew_ClampsThreshold(t *testing.T) {
	t.Parallel()

	b := New(10, 10)
	maxLines, keep := b.Limits()
	assert.Equal(t, 10, maxLines)
	assert.Equal(t, 5, keep)

	b = New(0, 0)
	maxLines, keep = b.Limits()
	assert.Equal(t, model.DefaultMaxLines, maxLines)
	assert.Equal(t, model.DefaultCleanupThreshold, keep)
}

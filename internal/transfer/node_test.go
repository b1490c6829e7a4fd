package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPath(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"/":            "",
		"a/b/":         "a/b",
		"/a//b":        "a/b",
		`a\b\c.txt`:    "a/b/c.txt",
		"a/../b":       "b",
		"../../escape": "escape",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanPath(in), "CleanPath(%q)", in)
	}
}

func TestAncestorsAndParent(t *testing.T) {
	assert.Equal(t, []string{"a/b", "a"}, Ancestors("a/b/c.txt"))
	assert.Empty(t, Ancestors("top.txt"))
	assert.Empty(t, Ancestors(""))

	assert.Equal(t, "a/b", ParentPath("a/b/c"))
	assert.Equal(t, "", ParentPath("a"))
	assert.Equal(t, "", ParentPath(""))
}

func TestIsUnder(t *testing.T) {
	assert.True(t, IsUnder("a/b", "a"))
	assert.True(t, IsUnder("a", ""))
	assert.False(t, IsUnder("a", "a"))
	assert.False(t, IsUnder("ab/c", "a"))
	assert.False(t, IsUnder("", ""))
}

func TestHasChanged(t *testing.T) {
	base := &Node{Kind: KindFile, Size: 10, ModTime: mustTime("2024-01-01T00:00:00.100Z")}

	same := *base
	same.ModTime = mustTime("2024-01-01T00:00:00.900Z")
	assert.False(t, hasChanged(base, &same), "sub-second differences are ignored")

	bigger := *base
	bigger.Size = 11
	assert.True(t, hasChanged(base, &bigger))

	newer := *base
	newer.ModTime = mustTime("2024-01-01T00:00:02Z")
	assert.True(t, hasChanged(base, &newer))
}

package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum_KnownDigest(t *testing.T) {
	// sha256("")
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum(nil))
	assert.Len(t, Sum([]byte("hello")), 64)
}

func TestNormalizeNewlines(t *testing.T) {
	cases := map[string]string{
		"a\r\nb\r\n": "a\nb\n",
		"a\rb":       "a\nb",
		"a\r\n\rb":   "a\n\nb",
		"plain\n":    "plain\n",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeNewlines(in), "input %q", in)
	}
}

func TestNormalizeForHash_TrimsOnlyTrailingBlanks(t *testing.T) {
	assert.Equal(t, "a\n\nb", NormalizeForHash("a\n\nb\n \n\t\n\n"))
	assert.Equal(t, "  indented", NormalizeForHash("  indented\n"))
	assert.Equal(t, "", NormalizeForHash("\n\n  \n"))
}

func TestBlock_InvariantUnderNewlineConvention(t *testing.T) {
	lf := "first\nsecond\n\nthird"
	crlf := "first\r\nsecond\r\n\r\nthird"
	cr := "first\rsecond\r\rthird"

	want := Block(lf)
	assert.Equal(t, want, Block(crlf))
	assert.Equal(t, want, Block(cr))
}

func TestBlock_InvariantUnderTrailingBlankLines(t *testing.T) {
	base := Block("console.log(\"old\");")
	assert.Equal(t, base, Block("console.log(\"old\");\n"))
	assert.Equal(t, base, Block("console.log(\"old\");\n\n   \n"))
	assert.Equal(t, base, Block("console.log(\"old\");\r\n\r\n"))
}

func TestBlock_DetectsChanges(t *testing.T) {
	assert.NotEqual(t, Block("a\nb"), Block("a\n\nb"))
	assert.NotEqual(t, Block("a"), Block(" a"))
	assert.NotEqual(t, Block("old"), Block("new"))
}

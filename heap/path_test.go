package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibervm-dev/hibervm/vm"
)

func TestPathComponents(t *testing.T) {
	cases := []struct {
		raw    string
		name   string
		parent string
		stem   string
		suffix string
	}{
		{"/etc/passwd", "passwd", "/etc", "passwd", ""},
		{"/data/report.tar.gz", "report.tar.gz", "/data", "report.tar", ".gz"},
		{"notes.txt", "notes.txt", ".", "notes", ".txt"},
		{"/", "", "/", "", ""},
		{".hidden", ".hidden", ".", ".hidden", ""},
		{"a/b/c", "c", "a/b", "c", ""},
	}
	for _, tc := range cases {
		p := NewPath(tc.raw)
		assert.Equal(t, tc.name, p.Name(), tc.raw)
		assert.Equal(t, tc.parent, p.Parent(), tc.raw)
		assert.Equal(t, tc.stem, p.Stem(), tc.raw)
		assert.Equal(t, tc.suffix, p.Suffix(), tc.raw)
	}
}

func TestPathNormalization(t *testing.T) {
	assert.Equal(t, "/a/b", NewPath("/a//b/").AsPosix())
	assert.Equal(t, "a/b", NewPath("./a/./b").AsPosix())
	assert.Equal(t, ".", NewPath("").AsPosix())
	assert.Equal(t, "/", NewPath("///").AsPosix())
}

func TestPathSuffixes(t *testing.T) {
	assert.Equal(t, []string{".tar", ".gz"}, NewPath("x/archive.tar.gz").Suffixes())
	assert.Nil(t, NewPath("/etc/passwd").Suffixes())
	assert.Nil(t, NewPath(".bashrc").Suffixes())
}

func TestPathParts(t *testing.T) {
	assert.Equal(t, []string{"/", "usr", "lib"}, NewPath("/usr/lib").Parts())
	assert.Equal(t, []string{"usr", "lib"}, NewPath("usr/lib").Parts())
	assert.True(t, NewPath("/usr").IsAbsolute())
	assert.False(t, NewPath("usr").IsAbsolute())
}

func TestPathJoin(t *testing.T) {
	p := NewPath("/srv/data")
	assert.Equal(t, "/srv/data/in/f.txt", p.JoinPath("in", "f.txt"))
	// an absolute segment restarts the path
	assert.Equal(t, "/tmp/x", p.JoinPath("/tmp", "x"))
}

func TestPathWithNameAndSuffix(t *testing.T) {
	p := NewPath("/data/report.csv")

	got, err := p.WithName("summary.csv")
	require.NoError(t, err)
	assert.Equal(t, "/data/summary.csv", got)

	got, err = p.WithSuffix(".json")
	require.NoError(t, err)
	assert.Equal(t, "/data/report.json", got)

	got, err = p.WithSuffix("")
	require.NoError(t, err)
	assert.Equal(t, "/data/report", got)

	_, err = p.WithName("a/b")
	require.Error(t, err)
	_, err = p.WithSuffix("json")
	require.Error(t, err)
	_, err = NewPath("/").WithName("x")
	require.Error(t, err)
}

func TestPathRawCall(t *testing.T) {
	p := NewPath("/in/doc.txt")

	req := p.RawCall("read_text", nil)
	require.NotNil(t, req)
	assert.Equal(t, "path.read_text", req.Function)
	require.Len(t, req.Args, 1)
	assert.Equal(t, vm.StrValue("/in/doc.txt"), req.Args[0])

	req = p.RawCall("stat", []vm.Value{vm.BoolValue(true)})
	require.NotNil(t, req)
	assert.Equal(t, "path.stat", req.Function)
	assert.Len(t, req.Args, 2)

	// pure methods are not yielded to the host
	assert.Nil(t, p.RawCall("name", nil))
	assert.Nil(t, p.RawCall("joinpath", nil))
}

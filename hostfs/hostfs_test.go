package hostfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibervm-dev/hibervm/interp"
)

func setupRoot(t *testing.T) *Capability {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "in"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "in", "doc.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "in", "raw.bin"), []byte{1, 2, 3}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret"), []byte("outside"), 0o644))
	return New(root)
}

func invoke(t *testing.T, c *Capability, function, path string) interp.HostValue {
	t.Helper()
	out, err := c.Invoke(function, []interp.HostValue{interp.HostStrValue(path)})
	require.NoError(t, err)
	return out
}

func TestExistsAndKinds(t *testing.T) {
	c := setupRoot(t)
	assert.Equal(t, interp.HostBoolValue(true), invoke(t, c, "path.exists", "/in/doc.txt"))
	assert.Equal(t, interp.HostBoolValue(false), invoke(t, c, "path.exists", "/in/missing.txt"))
	assert.Equal(t, interp.HostBoolValue(true), invoke(t, c, "path.is_file", "/in/doc.txt"))
	assert.Equal(t, interp.HostBoolValue(false), invoke(t, c, "path.is_file", "/in"))
	assert.Equal(t, interp.HostBoolValue(true), invoke(t, c, "path.is_dir", "/in"))
}

func TestReadTextAndBytes(t *testing.T) {
	c := setupRoot(t)
	assert.Equal(t, interp.HostStrValue("hello world"), invoke(t, c, "path.read_text", "/in/doc.txt"))
	assert.Equal(t, interp.HostBytesValue([]byte{1, 2, 3}), invoke(t, c, "path.read_bytes", "/in/raw.bin"))
}

func TestStat(t *testing.T) {
	c := setupRoot(t)
	out := invoke(t, c, "path.stat", "/in/doc.txt")
	require.Equal(t, interp.HostDict, out.Kind)
	fields := make(map[string]interp.HostValue, len(out.Dict))
	for _, e := range out.Dict {
		fields[e.Key] = e.Value
	}
	assert.Equal(t, interp.HostIntValue(11), fields["size"])
	assert.Equal(t, interp.HostBoolValue(true), fields["is_file"])
	assert.Equal(t, interp.HostBoolValue(false), fields["is_dir"])

	for _, key := range []string{
		"mode", "ino", "dev", "nlink", "uid", "gid",
		"size", "atime", "mtime", "ctime",
	} {
		fv, ok := fields[key]
		require.True(t, ok, key)
		assert.Equal(t, interp.HostInt, fv.Kind, key)
	}
	assert.GreaterOrEqual(t, fields["nlink"].Int, int64(1))
	assert.Greater(t, fields["mtime"].Int, int64(0))
	assert.Greater(t, fields["atime"].Int, int64(0))
	assert.Greater(t, fields["ctime"].Int, int64(0))
}

func TestIterdir(t *testing.T) {
	c := setupRoot(t)
	out := invoke(t, c, "path.iterdir", "/in")
	assert.Equal(t, interp.HostListValue(
		interp.HostStrValue("/in/doc.txt"),
		interp.HostStrValue("/in/raw.bin"),
	), out)
}

func TestMissingFileIsCatchable(t *testing.T) {
	c := setupRoot(t)
	_, err := c.Invoke("path.read_text", []interp.HostValue{interp.HostStrValue("/in/missing.txt")})
	require.Error(t, err)
	var exc *interp.Exception
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "FileNotFoundError", exc.Type)
	assert.Equal(t, "/in/missing.txt", exc.Message)
}

func TestConfinement(t *testing.T) {
	c := setupRoot(t)
	// the real file sits next to the root, not under it
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(c.Root), "escape.txt"), []byte("x"), 0o644))

	for _, virtual := range []string{
		"../escape.txt",
		"/../escape.txt",
		"/in/../../escape.txt",
		"../../../../etc/passwd",
	} {
		out, err := c.Invoke("path.exists", []interp.HostValue{interp.HostStrValue(virtual)})
		require.NoError(t, err, virtual)
		assert.Equal(t, interp.HostBoolValue(false), out, virtual)
	}

	// dot-dot confined inside the root still works
	assert.Equal(t, interp.HostBoolValue(true), invoke(t, c, "path.exists", "/in/../secret"))
}

func TestResolve(t *testing.T) {
	c := setupRoot(t)
	assert.Equal(t, interp.HostStrValue("/in/doc.txt"), invoke(t, c, "path.resolve", "in/../in/doc.txt"))
	assert.Equal(t, interp.HostStrValue("/"), invoke(t, c, "path.resolve", "../.."))
}

func TestBadArguments(t *testing.T) {
	c := setupRoot(t)
	_, err := c.Invoke("path.exists", nil)
	require.Error(t, err)
	_, err = c.Invoke("path.frobnicate", []interp.HostValue{interp.HostStrValue("/x")})
	require.Error(t, err)
}

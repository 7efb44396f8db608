package transport

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	assert.Equal(t, "'app'", Quote("app"))
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
}

func TestRemotePathExpandsHome(t *testing.T) {
	assert.Equal(t, `"$HOME/app"`, RemotePath("~/app"))
	assert.Equal(t, `"$HOME"`, RemotePath("~"))
	assert.Equal(t, "'/opt/app'", RemotePath("/opt/app"))
}

func TestWriteTarRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist", "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"name":"app"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "assets", "main.js"), []byte("console.log(1)"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, writeTar(&buf, root))

	entries := map[string]string{}
	tr := tar.NewReader(&buf)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(body)
	}

	assert.Equal(t, `{"name":"app"}`, entries["package.json"])
	assert.Equal(t, "console.log(1)", entries["dist/assets/main.js"])
	assert.Contains(t, entries, "dist/")
	assert.Contains(t, entries, "dist/assets/")
}

func TestWriteTarMissingRoot(t *testing.T) {
	var buf bytes.Buffer
	err := writeTar(&buf, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

package assets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicesi/amelia-sub000/internal/session/sessiontest"
	"github.com/unicesi/amelia-sub000/internal/target"
)

func TestParse_GroupsByLocalPath(t *testing.T) {
	input := strings.Join([]string{
		"# local\tremote",
		"build/app.jar\t/srv/app/app.jar",
		"conf/app.properties\t/srv/app/app.properties",
		"build/app.jar\t/srv/backup/app.jar",
		"build/app.jar\t/srv/app/app.jar",
	}, "\n")

	b, err := Parse(strings.NewReader(input), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"build/app.jar", "conf/app.properties"}, b.Locals())
	assert.Equal(t, []string{"/srv/app/app.jar", "/srv/backup/app.jar"}, b.Remotes("build/app.jar"))
	assert.Equal(t, 3, b.Len())
}

func TestParse_Malformed(t *testing.T) {
	for name, input := range map[string]string{
		"one field":    "build/app.jar",
		"three fields": "a\tb\tc",
		"empty remote": "a\t ",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(input), "")
			assert.ErrorIs(t, err, ErrMalformedRow)
		})
	}
}

func TestLoad_ResolvesAgainstBundleDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.tsv")
	require.NoError(t, os.WriteFile(path, []byte("build/app.jar\t/srv/app/app.jar\n/abs/lib.jar\t/srv/lib.jar\n"), 0o600))

	b, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "build/app.jar"), b.resolve("build/app.jar"))
	assert.Equal(t, "/abs/lib.jar", b.resolve("/abs/lib.jar"))
}

func TestUpload_CreatesMissingRemoteDirectories(t *testing.T) {
	d := &sessiontest.Dialer{}
	d.Mkdir("node1", "/srv/app")
	tg := target.New("node1", "deploy", "pw")
	require.NoError(t, tg.Open(context.Background(), d))
	defer tg.ShutdownQueue()

	b := NewBundle("")
	b.Add("build/app.jar", "/srv/app/app.jar")
	b.Add("build/app.jar", "/srv/backup/app.jar")

	a := NewAction("transfer", b, true)
	out, err := a.Run(context.Background(), tg)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app/app.jar\n/srv/backup/app.jar", out)

	uploads := d.Uploads()
	require.Len(t, uploads, 2)
	assert.Equal(t, "/srv/app/app.jar", uploads[0].Remote)
	assert.Equal(t, "/srv/backup/app.jar", uploads[1].Remote)
	assert.Contains(t, d.Dirs("node1"), "/srv/backup")
	assert.True(t, d.Exists("node1", "/srv/backup/app.jar"))
}

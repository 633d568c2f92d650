package files

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/sitebackup/internal/backup"
	"github.com/kebairia/sitebackup/internal/config"
	"github.com/kebairia/sitebackup/internal/runner"
	"github.com/kebairia/sitebackup/internal/runner/runnertest"
)

func boolPtr(b bool) *bool { return &b }

func makeTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "logs", "old"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "logs", "old", "a.log"), []byte("log"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "app", "index.php"), []byte("<?php"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".htaccess"), []byte("deny"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "robots.txt"), []byte("ok"), 0o644))
	return src
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/var/www/", NormalizePath("/var/www"))
	assert.Equal(t, "/var/www/", NormalizePath("/var/www/"))
}

func TestCopyCommand(t *testing.T) {
	cmd := CopyCommand("/src/", []string{"a", ".b"}, "/ws/files/www", true)
	assert.Equal(t, "cp", cmd.Name)
	assert.Equal(t, []string{"-a", "-l", "/src/a", "/src/.b", "/ws/files/www/"}, cmd.Args)

	cmd = CopyCommand("/src/", []string{"a"}, "/ws/files/www/", false)
	assert.Equal(t, []string{"-a", "/src/a", "/ws/files/www/"}, cmd.Args)
}

func TestRun_HardlinkFlagFollowsConfig(t *testing.T) {
	src := makeTree(t)

	for _, tt := range []struct {
		name     string
		hardlink *bool
		want     bool
	}{
		{"default", nil, true},
		{"explicit true", boolPtr(true), true},
		{"explicit false", boolPtr(false), false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fake := &runnertest.Fake{}
			stage := &Stage{Runner: fake}

			_, err := stage.Run(context.Background(), config.FileSource{Name: "www", Path: src, Hardlink: tt.hardlink}, t.TempDir())
			require.NoError(t, err)
			require.Len(t, fake.Calls, 1)
			assert.Equal(t, tt.want, fake.Calls[0].Args[1] == "-l")
		})
	}
}

func TestRun_DestinationPermissions(t *testing.T) {
	filesDir := t.TempDir()
	stage := &Stage{Runner: &runnertest.Fake{}}

	rec, err := stage.Run(context.Background(), config.FileSource{Name: "www", Path: makeTree(t)}, filesDir)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(filesDir, "www"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerm), info.Mode().Perm())
	assert.Equal(t, filepath.Join(filesDir, "www"), rec.Path)
}

func TestRun_CopyFailure(t *testing.T) {
	fake := &runnertest.Fake{Handler: func(runner.Command) runner.Result {
		return runnertest.Failed("cp: cannot create hard link: Invalid cross-device link")
	}}
	stage := &Stage{Runner: fake}

	_, err := stage.Run(context.Background(), config.FileSource{Name: "www", Path: makeTree(t)}, t.TempDir())

	var stageErr *backup.StageExecutionError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, backup.StageCopy, stageErr.Stage)
	assert.Contains(t, stageErr.Diagnostic, "cross-device")
}

func TestRun_MissingSource(t *testing.T) {
	stage := &Stage{Runner: &runnertest.Fake{}}

	_, err := stage.Run(context.Background(), config.FileSource{Name: "www", Path: "/does/not/exist"}, t.TempDir())
	var stageErr *backup.StageExecutionError
	assert.True(t, errors.As(err, &stageErr))
}

func TestRun_EmptySourceSkipsCopy(t *testing.T) {
	fake := &runnertest.Fake{}
	stage := &Stage{Runner: fake}

	_, err := stage.Run(context.Background(), config.FileSource{Name: "www", Path: t.TempDir()}, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, fake.Calls)
}

func TestRun_RealCopyWithExcludes(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not installed")
	}
	src := makeTree(t)
	filesDir := t.TempDir()
	stage := &Stage{Runner: runner.NewExec(time.Minute, false, nil)}

	_, err := stage.Run(context.Background(), config.FileSource{
		Name:    "www",
		Path:    src,
		Exclude: []string{"logs", "robots.txt", "missing/path"},
	}, filesDir)
	require.NoError(t, err)

	dest := filepath.Join(filesDir, "www")
	assert.NoDirExists(t, filepath.Join(dest, "logs"))
	assert.NoFileExists(t, filepath.Join(dest, "robots.txt"))
	assert.FileExists(t, filepath.Join(dest, "app", "index.php"))
	assert.FileExists(t, filepath.Join(dest, ".htaccess"))

	// Hardlinked by default: same inode as the source, and the source keeps
	// its excluded entries.
	srcInfo, err := os.Stat(filepath.Join(src, "app", "index.php"))
	require.NoError(t, err)
	dstInfo, err := os.Stat(filepath.Join(dest, "app", "index.php"))
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Sys().(*syscall.Stat_t).Ino, dstInfo.Sys().(*syscall.Stat_t).Ino)
	assert.DirExists(t, filepath.Join(src, "logs"))
}

func TestRemoveExcluded(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "var", "cache"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "var", "cache", "x"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "single"), nil, 0o600))

	removed, err := RemoveExcluded(dest, "var/cache")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, filepath.Join(dest, "var", "cache"))
	assert.DirExists(t, filepath.Join(dest, "var"))

	removed, err = RemoveExcluded(dest, "single")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = RemoveExcluded(dest, "nope")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = RemoveExcluded(dest, "../outside")
	assert.Error(t, err)
}

func TestRemoveExcluded_DoesNotFollowSymlinkedParent(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(outside, "cache"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "cache", "precious"), []byte("live"), 0o600))

	dest := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dest, "vendor")))

	removed, err := RemoveExcluded(dest, "vendor/cache")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.FileExists(t, filepath.Join(outside, "cache", "precious"))
}

func TestRemoveExcluded_SymlinkItselfIsRemoved(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "precious"), []byte("live"), 0o600))

	dest := t.TempDir()
	link := filepath.Join(dest, "vendor")
	require.NoError(t, os.Symlink(outside, link))

	removed, err := RemoveExcluded(dest, "vendor")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = os.Lstat(link)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.FileExists(t, filepath.Join(outside, "precious"))
}

func TestRemoveExcluded_SymlinkWithinTree(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "lib", "cache"), 0o700))
	require.NoError(t, os.Symlink("lib", filepath.Join(dest, "vendor")))

	removed, err := RemoveExcluded(dest, "vendor/cache")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, filepath.Join(dest, "lib", "cache"))
}

func TestRun_ExcludeThroughSymlinkKeepsLiveTree(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	shared := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(shared, "cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shared, "cache", "precious"), []byte("live"), 0o644))

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.php"), []byte("<?php"), 0o644))
	require.NoError(t, os.Symlink(shared, filepath.Join(src, "vendor")))

	stage := &Stage{Runner: runner.NewExec(time.Minute, false, nil)}
	filesDir := t.TempDir()
	_, err := stage.Run(context.Background(), config.FileSource{
		Name:    "www",
		Path:    src,
		Exclude: []string{"vendor/cache"},
	}, filesDir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(shared, "cache", "precious"))
	target, err := os.Readlink(filepath.Join(filesDir, "www", "vendor"))
	require.NoError(t, err)
	assert.Equal(t, shared, target)
}

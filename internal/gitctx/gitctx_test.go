package gitctx

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectOutsideRepo(t *testing.T) {
	assert.Nil(t, Collect(t.TempDir()))
}

func TestCollectFromNestedPath(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)

	nested := filepath.Join(root, "Clarum", "09 - Publishing")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "note.md"), []byte("x"), 0o644))

	assert.Nil(t, Collect(nested), "no HEAD before the first commit")

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("Clarum/09 - Publishing/note.md")
	require.NoError(t, err)
	hash, err := wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(0, 0)},
	})
	require.NoError(t, err)

	p := Collect(nested)
	require.NotNil(t, p)
	assert.Equal(t, hash.String(), p.Head)
	assert.Equal(t, "master", p.Branch)
	assert.False(t, p.Dirty)
	assert.Equal(t, filepath.Clean(root), p.Root)

	require.NoError(t, os.WriteFile(filepath.Join(nested, "new.md"), []byte("y"), 0o644))
	p = Collect(nested)
	require.NotNil(t, p)
	assert.True(t, p.Dirty)
}

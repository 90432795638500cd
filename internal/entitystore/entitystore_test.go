package entitystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/corevisor/corectl/internal/corerr"
	"gotest.tools/v3/assert"
)

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStoreCreateGetUpdateDelete(t *testing.T) {
	root := t.TempDir()
	s, err := New[widget](root, "widget")
	assert.NilError(t, err)

	assert.NilError(t, s.Create("a", widget{Name: "a", Count: 1}))

	err = s.Create("a", widget{Name: "a", Count: 2})
	assert.Equal(t, corerr.KindOf(err), corerr.Exists)

	got, err := s.Get("a")
	assert.NilError(t, err)
	assert.DeepEqual(t, got, widget{Name: "a", Count: 1})

	assert.NilError(t, s.Update("a", widget{Name: "a", Count: 2}))
	got, err = s.Get("a")
	assert.NilError(t, err)
	assert.Equal(t, got.Count, 2)

	err = s.Update("missing", widget{})
	assert.Equal(t, corerr.KindOf(err), corerr.NotFound)

	assert.NilError(t, s.Delete("a"))
	_, err = s.Get("a")
	assert.Equal(t, corerr.KindOf(err), corerr.NotFound)
}

func TestStoreListSkipsUndecodable(t *testing.T) {
	root := t.TempDir()
	s, err := New[widget](root, "widget")
	assert.NilError(t, err)

	assert.NilError(t, s.Create("good", widget{Name: "good", Count: 1}))

	assert.NilError(t, os.MkdirAll(filepath.Join(root, "bad"), 0o750))
	assert.NilError(t, os.WriteFile(filepath.Join(root, "bad", "config.json"), []byte("not json"), 0o640))

	got, err := s.List()
	assert.NilError(t, err)
	assert.Equal(t, len(got), 1)
	assert.DeepEqual(t, got["good"], widget{Name: "good", Count: 1})
}

func TestStoreDeleteAbsentIsNotError(t *testing.T) {
	root := t.TempDir()
	s, err := New[widget](root, "widget")
	assert.NilError(t, err)
	assert.NilError(t, s.Delete("never-existed"))
}

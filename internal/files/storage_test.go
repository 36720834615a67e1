package files

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndOpen(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	name, err := s.Save("essay draft.docx", strings.NewReader("contents"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, "essay_draft.docx"))

	rc, err := s.Open(name)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))
}

func TestSave_CollidingNames(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	a, err := s.Save("notes.pdf", strings.NewReader("one"))
	require.NoError(t, err)
	b, err := s.Save("notes.pdf", strings.NewReader("two"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_TraversalIsConfined(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_Missing(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open("nope.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCategoryPrefixes(t *testing.T) {
	assert.Equal(t, "completed-final.docx", Completed("final.docx"))
	assert.Equal(t, "additional-refs.bib", Additional("refs.bib"))
}

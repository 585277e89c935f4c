package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/models"
)

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = b
	}
	return out
}

func TestArchiverRoundTrip(t *testing.T) {
	a := New()
	arts := []models.GeneratedArtifact{
		{ID: "jane_doe_1", Payload: []byte("%PDF-1\x00\xff")},
		{ID: "jane_doe_2", Payload: []byte("%PDF-2")},
	}
	for _, art := range arts {
		require.NoError(t, a.Add(art))
	}
	assert.Equal(t, 2, a.Len())

	arc, err := a.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"jane_doe_1.pdf", "jane_doe_2.pdf"}, arc.Entries)

	files := readZip(t, arc.Bytes)
	require.Len(t, files, 2)
	for _, art := range arts {
		assert.Equal(t, art.Payload, files[EntryName(art.ID)], "payload must be byte-identical")
	}
}

func TestArchiverIsDeterministic(t *testing.T) {
	build := func() []byte {
		a := New()
		require.NoError(t, a.Add(models.GeneratedArtifact{ID: "a_1", Payload: []byte("one")}))
		require.NoError(t, a.AddNamed("all.pdf", []byte("merged")))
		arc, err := a.Finalize()
		require.NoError(t, err)
		return arc.Bytes
	}
	assert.Equal(t, build(), build())
}

func TestArchiverRejectsDuplicatesAndLateAdds(t *testing.T) {
	a := New()
	require.NoError(t, a.Add(models.GeneratedArtifact{ID: "a_1", Payload: []byte("x")}))

	err := a.Add(models.GeneratedArtifact{ID: "a_1", Payload: []byte("y")})
	assert.True(t, errors.Is(err, errors.ErrArchive))

	_, err = a.Finalize()
	require.NoError(t, err)

	err = a.Add(models.GeneratedArtifact{ID: "b_2", Payload: []byte("z")})
	assert.True(t, errors.Is(err, errors.ErrArchive))

	_, err = a.Finalize()
	assert.True(t, errors.Is(err, errors.ErrArchive))
}

func TestEmptyArchiveIsValidZip(t *testing.T) {
	arc, err := New().Finalize()
	require.NoError(t, err)
	assert.Empty(t, readZip(t, arc.Bytes))
	assert.Empty(t, arc.Entries)
}

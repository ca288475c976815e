package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/userexports/internal/domain"
)

func sampleUsers() []domain.User {
	created := time.Date(2025, 2, 3, 4, 5, 6, 789012000, time.UTC)
	return []domain.User{
		{ID: 1, Name: "Ada Lovelace", Email: "ada@example.com", CreatedAt: created, UpdatedAt: created},
		{ID: 2, Name: `Quote "Q", Comma`, Email: "q@example.com", CreatedAt: created, UpdatedAt: created.Add(time.Second)},
		{ID: 3, Name: "Gone", Email: "gone@example.com", CreatedAt: created, UpdatedAt: created.Add(2 * time.Second), IsDeleted: true},
	}
}

func TestWriteUsersRoundTrip(t *testing.T) {
	users := sampleUsers()
	var buf bytes.Buffer

	n, err := WriteUsers(&buf, users, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, []string{"id", "name", "email", "created_at", "updated_at", "is_deleted"}, recs[0])

	for i, rec := range recs[1:] {
		got, err := ParseUser(rec)
		require.NoError(t, err)
		want := users[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Email, got.Email)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
		assert.Equal(t, want.IsDeleted, got.IsDeleted)
	}
	assert.Equal(t, "true", recs[3][5])
	assert.Equal(t, "2025-02-03T04:05:06.789012Z", recs[1][3])
}

func TestWriteUsersAnnotated(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteUsers(&buf, sampleUsers(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "operation", recs[0][0])
	assert.Equal(t, []string{"INSERT", "UPDATE", "DELETE"}, []string{recs[1][0], recs[2][0], recs[3][0]})
	assert.Len(t, recs[1], 7)
}

func TestWriteUsersEmpty(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteUsers(&buf, nil, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "id,name,email,created_at,updated_at,is_deleted\n", buf.String())
}

func TestFileWriterCreatesParents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	fw := FileWriter{Dir: dir}

	path, n, err := fw.Write("full_c_20250101T000000Z.csv", sampleUsers(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, filepath.Join(dir, "full_c_20250101T000000Z.csv"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ada@example.com")
}

func TestFileWriterRejectsEscapingNames(t *testing.T) {
	fw := FileWriter{Dir: t.TempDir()}
	for _, name := range []string{"", "../x.csv", "/tmp/x.csv", "a/../../x.csv"} {
		_, _, err := fw.Write(name, sampleUsers(), false)
		assert.True(t, errors.Is(err, ErrUnsafeFilename), "name %q: %v", name, err)
	}
}

func TestParseUserErrors(t *testing.T) {
	_, err := ParseUser([]string{"1"})
	assert.Error(t, err)
	_, err = ParseUser([]string{"x", "n", "e", "2025-01-01T00:00:00Z", "2025-01-01T00:00:00Z", "false"})
	assert.Error(t, err)
	_, err = ParseUser([]string{"1", "n", "e", "yesterday", "2025-01-01T00:00:00Z", "false"})
	assert.Error(t, err)
}

package userdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeListing(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "userinfo.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return New(path)
}

func TestLookupPassword(t *testing.T) {
	store := writeListing(t, "alice secret\nbob hunter2\n")

	pass, found, err := store.LookupPassword("alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "secret", pass)

	_, found, err = store.LookupPassword("mallory")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPasswordMayContainSpaces(t *testing.T) {
	store := writeListing(t, "alice correct horse battery staple\n")

	pass, found, err := store.LookupPassword("alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "correct horse battery staple", pass)
}

func TestSkipsMalformedLines(t *testing.T) {
	store := writeListing(t, "\nnopassword\nalice secret\n   \n")

	users, err := store.ValidUsernames()
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"alice": {}}, users)

	_, found, err := store.LookupPassword("nopassword")
	require.NoError(t, err)
	require.False(t, found)
}

func TestReadsFreshOnEveryLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userinfo.txt")
	require.NoError(t, os.WriteFile(path, []byte("alice secret\n"), 0o600))
	store := New(path)

	ok, err := store.Exists("bob")
	require.NoError(t, err)
	require.False(t, ok)

	// Operator edits take effect without any reload step.
	require.NoError(t, os.WriteFile(path, []byte("alice secret\nbob hunter2\n"), 0o600))

	ok, err = store.Exists("bob")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMissingListingIsAnError(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "absent.txt"))
	_, _, err := store.LookupPassword("alice")
	require.Error(t, err)
}

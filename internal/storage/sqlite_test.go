package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SetSetting("theme", "dark"))
	id, err := store.MachineID()
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	v, err := store.GetSetting("theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	again, err := store.MachineID()
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestInitSchema_AppliesEachMigrationOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	for i := 0; i < 2; i++ {
		store, err := NewSQLiteStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	var count, latest int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*), MAX(version) FROM schema_version").Scan(&count, &latest))
	assert.Equal(t, len(migrations), count)
	assert.Equal(t, currentSchemaVersion, latest)
}

func TestNewSQLiteStore_BadPath(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "missing", "dir", "state.db"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStorageOpenFailed))
}

func TestSettings_GetSetDelete(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSetting("absent")
	assert.True(t, errors.Is(err, ErrSettingNotFound))

	require.NoError(t, store.SetSetting("k", "v1"))
	require.NoError(t, store.SetSetting("k", "v2"))
	v, err := store.GetSetting("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, store.DeleteSetting("k"))
	require.NoError(t, store.DeleteSetting("k"))
	_, err = store.GetSetting("k")
	assert.True(t, errors.Is(err, ErrSettingNotFound))
}

func TestSettings_SecretsNotListed(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetSetting("plain", "1"))
	require.NoError(t, store.SetSecret("OPENAI_API_KEY", "sk-123"))
	_, err := store.MachineID()
	require.NoError(t, err)

	list, err := store.ListSettings()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plain": "1"}, list)

	v, err := store.GetSetting("OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", v)
}

func TestSettings_RejectsReservedAndEmptyKeys(t *testing.T) {
	store := newTestStore(t)

	err := store.SetSetting(machineIDKey, "forged")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStorageSaveFailed))

	err = store.SetSetting("", "x")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStorageSaveFailed))
}

func TestMachineID_Stable(t *testing.T) {
	store := newTestStore(t)

	a, err := store.MachineID()
	require.NoError(t, err)
	b, err := store.MachineID()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.Len(t, a, 36)
}

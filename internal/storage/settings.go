package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// machineIDKey holds the persisted machine identity. It is reserved:
// Set refuses to overwrite it.
const machineIDKey = "idelink.machineId"

// GetSetting returns the stored value for key, or ErrSettingNotFound.
func (s *SQLiteStore) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(key)
}

func (s *SQLiteStore) getLocked(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", queryFailed("get setting", err)
	}
	return value, nil
}

// SetSetting stores a plain setting.
func (s *SQLiteStore) SetSetting(key, value string) error {
	return s.put(key, value, false)
}

// SetSecret stores a secret. Secrets are readable with GetSetting but are
// never included in ListSettings.
func (s *SQLiteStore) SetSecret(key, value string) error {
	return s.put(key, value, true)
}

func (s *SQLiteStore) put(key, value string, secret bool) error {
	if key == "" {
		return saveFailed("save setting", errors.New("key cannot be empty"))
	}
	if key == machineIDKey {
		return saveFailed("save setting", errors.New("key is reserved: "+key))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value, secret)
}

func (s *SQLiteStore) putLocked(key, value string, secret bool) error {
	const query = `
		INSERT INTO settings (key, value, secret, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			secret = excluded.secret,
			updated_at = excluded.updated_at
	`
	flag := 0
	if secret {
		flag = 1
	}
	if _, err := s.db.Exec(query, key, value, flag, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return saveFailed("save setting", err)
	}
	return nil
}

// DeleteSetting removes key. Missing keys are not an error.
func (s *SQLiteStore) DeleteSetting(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return saveFailed("delete setting", err)
	}
	return nil
}

// ListSettings returns all non-secret settings, excluding reserved keys.
func (s *SQLiteStore) ListSettings() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key, value FROM settings WHERE secret = 0 AND key != ? ORDER BY key`, machineIDKey)
	if err != nil {
		return nil, queryFailed("list settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, queryFailed("scan setting", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("iterate settings", err)
	}
	return out, nil
}

// MachineID returns this machine's stable identifier, generating and
// persisting a random UUID on first call.
func (s *SQLiteStore) MachineID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.getLocked(machineIDKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrSettingNotFound) {
		return "", err
	}

	id = uuid.NewString()
	if err := s.putLocked(machineIDKey, id, false); err != nil {
		return "", err
	}
	log.WithField("machine_id", id).Info("Generated machine id")
	return id, nil
}

// Package tokenfile persists the calendar OAuth token. The file holds the
// token plus a little metadata about the grant so `status` can describe
// it without touching the network.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// ErrNotLoggedIn is returned by Load when no token file exists.
var ErrNotLoggedIn = errors.New("tokenfile: not logged in")

// Grant describes where a token came from.
type Grant struct {
	ClientID  string    `json:"client_id,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// File is the on-disk format.
type File struct {
	Token *oauth2.Token `json:"token"`
	Grant Grant         `json:"grant"`
}

// Load reads the token file at path. A missing file yields ErrNotLoggedIn.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotLoggedIn
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s has no token (log in again)", path)
	}

	return &tf, nil
}

// Save writes tf atomically (temp file + rename) with 0600 permissions.
// Token values are never logged.
func Save(path string, tf *File) error {
	if tf == nil || tf.Token == nil {
		return errors.New("tokenfile: refusing to save an empty token")
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	// Same directory keeps rename(2) on one filesystem.
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	return nil
}

func writeSynced(f *os.File, data []byte) error {
	if err := f.Chmod(FilePerms); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// A power loss between close and rename must not leave a partial file.
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	return nil
}

// UpdateToken replaces the token in the file at path, keeping the grant
// metadata. Used when the OAuth library refreshes a token.
func UpdateToken(path string, tok *oauth2.Token) error {
	tf, err := Load(path)
	if errors.Is(err, ErrNotLoggedIn) {
		tf = &File{Grant: Grant{GrantedAt: time.Now().UTC()}}
	} else if err != nil {
		return err
	}

	tf.Token = tok

	return Save(path, tf)
}

// Remove deletes the token file. It reports whether a file existed.
func Remove(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return true, nil
}

package oauth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// TokenStore persists one token per credential ID under dir, one file per
// credential, written atomically (temp file + rename) so a crash mid-write
// never leaves a corrupt token file behind.
type TokenStore struct {
	dir string
}

// NewTokenStore returns a store rooted at dir.
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir}
}

// Load reads the persisted token for credentialID, returning (nil, nil) if
// none has been saved yet.
func (s *TokenStore) Load(credentialID string) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path(credentialID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("oauth: parse token file: %w", err)
	}
	return &tok, nil
}

// Save atomically writes tok for credentialID.
func (s *TokenStore) Save(credentialID string, tok *oauth2.Token) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("oauth: mkdir token dir: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	final := s.path(credentialID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("oauth: write temp token file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("oauth: rename token file: %w", err)
	}
	return nil
}

func (s *TokenStore) path(credentialID string) string {
	return filepath.Join(s.dir, credentialID+".json")
}

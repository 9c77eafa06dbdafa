/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package credentials stores the tokens gatectl obtained from a tokengate server,
// one per context.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name tokens are stored under in the OS keychain.
const KeyringService = "gatectl"

const (
	StorageKeychain = "keychain"
	StorageFile     = "file"
)

type StoredToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
	Subject     string    `json:"subject,omitempty"`
}

// Expired reports whether the token expires within leeway of now.
func (t StoredToken) Expired(now time.Time, leeway time.Duration) bool {
	return !t.Expiry.IsZero() && !now.Add(leeway).Before(t.Expiry)
}

// Store keeps one token per context name.
type Store interface {
	Get(contextName string) (StoredToken, bool, error)
	Save(contextName string, token StoredToken) error
	Delete(contextName string) error
}

// NewStore returns the store for kind. An empty kind selects the keychain.
func NewStore(kind, filePath string) (Store, error) {
	switch kind {
	case "", StorageKeychain:
		return KeyringStore{}, nil
	case StorageFile:
		return &FileStore{Path: filePath}, nil
	default:
		return nil, fmt.Errorf("unknown token storage %q", kind)
	}
}

// KeyringStore keeps tokens in the OS keychain as JSON.
type KeyringStore struct{}

func (KeyringStore) Get(contextName string) (StoredToken, bool, error) {
	data, err := keyring.Get(KeyringService, contextName)
	if errors.Is(err, keyring.ErrNotFound) {
		return StoredToken{}, false, nil
	}
	if err != nil {
		return StoredToken{}, false, fmt.Errorf("reading keychain: %w", err)
	}
	var token StoredToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return StoredToken{}, false, fmt.Errorf("failed to parse stored token: %w", err)
	}
	return token, true, nil
}

func (KeyringStore) Save(contextName string, token StoredToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := keyring.Set(KeyringService, contextName, string(data)); err != nil {
		return fmt.Errorf("writing keychain: %w", err)
	}
	return nil
}

func (KeyringStore) Delete(contextName string) error {
	err := keyring.Delete(KeyringService, contextName)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting from keychain: %w", err)
	}
	return nil
}

type tokenCache struct {
	Tokens map[string]StoredToken `json:"tokens"`
}

// FileStore keeps all tokens in one JSON file readable only by the owner.
type FileStore struct {
	Path string
}

func (f *FileStore) load() (*tokenCache, error) {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var cache tokenCache
	if err := json.Unmarshal(content, &cache); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if cache.Tokens == nil {
		cache.Tokens = map[string]StoredToken{}
	}
	return &cache, nil
}

func (f *FileStore) save(cache *tokenCache) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	return os.WriteFile(f.Path, content, 0o600)
}

func (f *FileStore) Get(contextName string) (StoredToken, bool, error) {
	cache, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return StoredToken{}, false, nil
		}
		return StoredToken{}, false, err
	}
	token, ok := cache.Tokens[contextName]
	return token, ok, nil
}

func (f *FileStore) Save(contextName string, token StoredToken) error {
	cache, err := f.load()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		cache = &tokenCache{Tokens: map[string]StoredToken{}}
	}
	cache.Tokens[contextName] = token
	return f.save(cache)
}

func (f *FileStore) Delete(contextName string) error {
	cache, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	delete(cache.Tokens, contextName)
	return f.save(cache)
}

// Package store persists accounts and their session cookies in a single
// JSON or TOML file.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/copyleftdev/tixrush/internal/taskstypes"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	accountsFileMode = 0o600
	accountsDirMode  = 0o700
)

var (
	ErrInvalidAccount  = errors.New("invalid account")
	ErrAccountNotFound = errors.New("account not found")
)

var emailLike = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsEmailLike reports whether id looks like an email address.
func IsEmailLike(id string) bool {
	return emailLike.MatchString(strings.TrimSpace(id))
}

// ValidateAccount checks that the account carries a record named authCookie.
// Record contents are checked later, when the cookies are applied.
func ValidateAccount(a taskstypes.Account, authCookie string) error {
	if strings.TrimSpace(a.Email) == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidAccount)
	}
	if !a.HasCookie(authCookie) {
		return fmt.Errorf("%w: %s has no %q cookie", ErrInvalidAccount, a.Email, authCookie)
	}
	return nil
}

type fileSchema struct {
	Accounts []taskstypes.Account `json:"accounts" toml:"accounts"`
}

// FileStore reads and writes the account file. Writes replace the file
// atomically and are serialized within the process.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("accounts path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve accounts path: %w", err)
	}
	return &FileStore{path: filepath.Clean(abs)}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) isTOML() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".toml")
}

// LoadAccounts returns every stored account in file order. A missing file
// is an empty store.
func (s *FileStore) LoadAccounts(ctx context.Context) ([]taskstypes.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.read()
	if err != nil {
		return nil, err
	}
	return file.Accounts, nil
}

// GetAccount returns the account stored under email.
func (s *FileStore) GetAccount(ctx context.Context, email string) (taskstypes.Account, error) {
	accounts, err := s.LoadAccounts(ctx)
	if err != nil {
		return taskstypes.Account{}, err
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return taskstypes.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, email)
}

// SaveAccount inserts the account or replaces the one with the same email.
func (s *FileStore) SaveAccount(ctx context.Context, account taskstypes.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(account.Email) == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidAccount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}

	updated := false
	for i := range file.Accounts {
		if strings.EqualFold(file.Accounts[i].Email, account.Email) {
			file.Accounts[i] = account
			updated = true
			break
		}
	}
	if !updated {
		file.Accounts = append(file.Accounts, account)
	}

	return s.write(file)
}

func (s *FileStore) read() (fileSchema, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, nil
		}
		return fileSchema{}, fmt.Errorf("read accounts file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fileSchema{}, nil
	}

	var file fileSchema
	if s.isTOML() {
		if err := toml.Unmarshal(data, &file); err != nil {
			return fileSchema{}, fmt.Errorf("decode accounts file: %w", err)
		}
		return file, nil
	}

	// JSON files may also hold a bare list of accounts.
	if trimmed := bytes.TrimSpace(data); trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &file.Accounts); err != nil {
			return fileSchema{}, fmt.Errorf("decode accounts file: %w", err)
		}
		return file, nil
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode accounts file: %w", err)
	}
	return file, nil
}

func (s *FileStore) write(file fileSchema) error {
	if err := os.MkdirAll(filepath.Dir(s.path), accountsDirMode); err != nil {
		return fmt.Errorf("create accounts directory: %w", err)
	}

	var data []byte
	var err error
	if s.isTOML() {
		data, err = toml.Marshal(file)
	} else {
		data, err = json.MarshalIndent(file, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp accounts file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp accounts file: %w", err)
	}
	if err := tmp.Chmod(accountsFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp accounts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp accounts file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}
	cleanup = false
	return nil
}

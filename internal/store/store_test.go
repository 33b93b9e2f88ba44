package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/copyleftdev/tixrush/internal/taskstypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(email, session string) taskstypes.Account {
	return taskstypes.Account{
		Email: email,
		Cookies: []taskstypes.Cookie{
			{Name: "session_id", Value: session, Domain: ".example.com", Path: "/", Expires: 1767225600, HTTPOnly: true, Secure: true},
			{Name: "lang", Value: "vi", Domain: ".example.com"},
		},
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)

	accounts, err := s.LoadAccounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestFileStore_UpsertRoundTrip(t *testing.T) {
	for _, name := range []string{"accounts.json", "accounts.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			s, err := NewFileStore(path)
			require.NoError(t, err)
			ctx := context.Background()

			require.NoError(t, s.SaveAccount(ctx, account("a@example.com", "one")))
			require.NoError(t, s.SaveAccount(ctx, account("b@example.com", "two")))
			require.NoError(t, s.SaveAccount(ctx, account("A@example.com", "three")))

			accounts, err := s.LoadAccounts(ctx)
			require.NoError(t, err)
			require.Len(t, accounts, 2)
			assert.Equal(t, "A@example.com", accounts[0].Email)
			assert.Equal(t, "three", accounts[0].Cookies[0].Value)
			assert.Equal(t, account("b@example.com", "two"), accounts[1])

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".accounts-*"))
			assert.Empty(t, leftovers)
		})
	}
}

func TestFileStore_ReadsBareJSONList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"email": "a@example.com", "cookies": [{"name": "session_id", "value": "x", "domain": ".example.com"}]}
]`), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	accounts, err := s.LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].HasCookie("session_id"))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"accounts": [`), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = s.LoadAccounts(context.Background())
	assert.ErrorContains(t, err, "decode accounts file")

	assert.Error(t, s.SaveAccount(context.Background(), account("a@example.com", "x")))
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.SaveAccount(ctx, account(fmt.Sprintf("user%d@example.com", i), "v")))
		}(i)
	}
	wg.Wait()

	accounts, err := s.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 20)
}

func TestFileStore_GetAccount(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.SaveAccount(ctx, account("a@example.com", "v")))

	got, err := s.GetAccount(ctx, "A@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = s.GetAccount(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestFileStore_RejectsEmptyIdentifier(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)
	assert.ErrorIs(t, s.SaveAccount(context.Background(), taskstypes.Account{}), ErrInvalidAccount)
}

func TestValidateAccount(t *testing.T) {
	assert.NoError(t, ValidateAccount(account("a@example.com", "v"), "session_id"))
	assert.ErrorIs(t, ValidateAccount(account("a@example.com", "v"), "auth_token"), ErrInvalidAccount)
	// Presence of the name is what counts; an empty value is dropped on apply.
	assert.NoError(t, ValidateAccount(account("a@example.com", ""), "session_id"))
	assert.ErrorIs(t, ValidateAccount(taskstypes.Account{}, "session_id"), ErrInvalidAccount)
}

func TestIsEmailLike(t *testing.T) {
	assert.True(t, IsEmailLike("a@example.com"))
	assert.True(t, IsEmailLike(" first.last+tag@sub.example.vn "))
	assert.False(t, IsEmailLike("a@example"))
	assert.False(t, IsEmailLike("not an email"))
	assert.False(t, IsEmailLike(""))
}

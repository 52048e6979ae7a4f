// Package auth implements the credential store: account registration and
// password verification over the persistent user table.
//
// Passwords are stored as "<salt-hex>$<sha256-hex>" where the hash covers
// the hex-encoded salt concatenated with the password. Failure reasons are
// short user-visible strings that the text handler sends verbatim in
// REG_FAIL / AUTH_FAIL replies.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"hybrid/server/internal/store"
)

// Account constraints.
const (
	MinUsernameLen = 2
	MaxUsernameLen = 32
	MinPasswordLen = 4

	saltBytes = 16
)

// Failure reasons, sent to clients as-is.
var (
	ErrNameTaken    = errors.New("Имя уже занято")
	ErrNameLength   = fmt.Errorf("Имя должно быть %d-%d символов", MinUsernameLen, MaxUsernameLen)
	ErrPasswordLen  = fmt.Errorf("Пароль минимум %d символов", MinPasswordLen)
	ErrUserNotFound = errors.New("Пользователь не найден")
	ErrBadPassword  = errors.New("Неверный пароль")
)

// Manager serialises all credential operations behind a single lock and
// persists every mutation through the store before returning.
type Manager struct {
	mu sync.Mutex
	st *store.Store
}

// New returns a credential manager backed by st.
func New(st *store.Store) *Manager {
	return &Manager{st: st}
}

// Register creates a new account. The returned error, if non-nil, carries
// the user-visible failure reason.
func (m *Manager) Register(username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := m.st.UserExists(username)
	if err != nil {
		return fmt.Errorf("проверка имени: %w", err)
	}
	if exists {
		return ErrNameTaken
	}
	if n := utf8.RuneCountInString(username); n < MinUsernameLen || n > MaxUsernameLen {
		return ErrNameLength
	}
	if utf8.RuneCountInString(password) < MinPasswordLen {
		return ErrPasswordLen
	}

	if err := m.st.CreateUser(store.User{
		Username:     username,
		PasswordHash: hashPassword(password, ""),
		CreatedAt:    time.Now().Format("2006-01-02T15:04:05"),
	}); err != nil {
		return fmt.Errorf("сохранение пользователя: %w", err)
	}

	slog.Info("user registered", "username", username)
	return nil
}

// Verify checks a username/password pair against the stored hash.
func (m *Manager) Verify(username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, err := m.st.GetUser(username)
	if errors.Is(err, store.ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("чтение пользователя: %w", err)
	}

	salt, _, ok := strings.Cut(u.PasswordHash, "$")
	if !ok {
		return ErrBadPassword
	}
	check := hashPassword(password, salt)
	if subtle.ConstantTimeCompare([]byte(check), []byte(u.PasswordHash)) != 1 {
		return ErrBadPassword
	}
	return nil
}

// hashPassword returns "<salt-hex>$<sha256(salt-hex || password)-hex>".
// An empty salt generates a fresh random one.
func hashPassword(password, saltHex string) string {
	if saltHex == "" {
		var salt [saltBytes]byte
		if _, err := rand.Read(salt[:]); err != nil {
			// crypto/rand only fails when the platform source is broken.
			panic(fmt.Sprintf("auth: read random salt: %v", err))
		}
		saltHex = hex.EncodeToString(salt[:])
	}
	sum := sha256.Sum256([]byte(saltHex + password))
	return saltHex + "$" + hex.EncodeToString(sum[:])
}

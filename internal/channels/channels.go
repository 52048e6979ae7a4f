// Package channels manages the named-channel list: an ordered in-memory
// view over the persistent channel table, with the guarantee that the
// permanent "General" channel exists after first boot.
package channels

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"hybrid/server/internal/store"
)

// MaxNameLen is the maximum channel name length in runes.
const MaxNameLen = 32

// DefaultChannel is created (permanent) when the store holds no channels.
const DefaultChannel = "General"

// Failure reasons, sent to clients as-is.
var (
	ErrEmptyName     = errors.New("Имя канала не может быть пустым")
	ErrNameTooLong   = fmt.Errorf("Имя канала максимум %d символа", MaxNameLen)
	ErrAlreadyExists = errors.New("Канал уже существует")
	ErrNotFound      = errors.New("Канал не найден")
	ErrPermanent     = errors.New("Нельзя удалить постоянный канал")
)

// Manager holds the ordered channel list. All operations are serialised by
// one lock; mutations hit the store before the in-memory view changes.
type Manager struct {
	mu   sync.Mutex
	st   *store.Store
	list []store.Channel
}

// New loads the channel list from st. If the store is empty the permanent
// default channel is created and persisted.
func New(st *store.Store) (*Manager, error) {
	list, err := st.GetChannels()
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	if len(list) == 0 {
		id, err := st.CreateChannel(DefaultChannel, true)
		if err != nil {
			return nil, fmt.Errorf("create default channel: %w", err)
		}
		list = []store.Channel{{ID: id, Name: DefaultChannel, Permanent: true}}
		slog.Info("default channel created", "name", DefaultChannel)
	}
	return &Manager{st: st, list: list}, nil
}

// Names returns the channel names in insertion order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.list))
	for i, ch := range m.list {
		out[i] = ch.Name
	}
	return out
}

// List returns a snapshot of the channels in insertion order.
func (m *Manager) List() []store.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]store.Channel, len(m.list))
	copy(out, m.list)
	return out
}

// Exists reports whether a channel with the given name exists.
func (m *Manager) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexLocked(name) >= 0
}

// Create adds a new non-permanent channel. The returned error carries the
// user-visible failure reason.
func (m *Manager) Create(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return ErrNameTooLong
	}
	if m.indexLocked(name) >= 0 {
		return ErrAlreadyExists
	}

	id, err := m.st.CreateChannel(name, false)
	if err != nil {
		return fmt.Errorf("сохранение канала: %w", err)
	}
	m.list = append(m.list, store.Channel{ID: id, Name: name})

	slog.Info("channel created", "name", name, "total", len(m.list))
	return nil
}

// Delete removes a non-permanent channel by name.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(name)
	if i < 0 {
		return ErrNotFound
	}
	if m.list[i].Permanent {
		return ErrPermanent
	}

	if err := m.st.DeleteChannel(name); err != nil {
		return fmt.Errorf("удаление канала: %w", err)
	}
	m.list = append(m.list[:i], m.list[i+1:]...)

	slog.Info("channel deleted", "name", name, "remaining", len(m.list))
	return nil
}

func (m *Manager) indexLocked(name string) int {
	for i, ch := range m.list {
		if ch.Name == name {
			return i
		}
	}
	return -1
}

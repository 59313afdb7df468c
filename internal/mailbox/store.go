// Package mailbox implements the shared on-disk mailbox: one
// <root>/<username>/my_mailbox.txt per user, holding dot-terminated messages
// in arrival order. All file access goes through Store, which serializes
// operations per user so concurrent delivery and retrieval never observe a
// half-written file. Operations on different users' mailboxes do not contend.
package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const mailboxFile = "my_mailbox.txt"

type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(root string) *Store {
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

// Path returns the mailbox file path for a user.
func (s *Store) Path(username string) string {
	return filepath.Join(s.root, username, mailboxFile)
}

// userLock returns the mutex guarding one user's mailbox file, creating it
// on first use. Locking is keyed per username, never global.
func (s *Store) userLock(username string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[username]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[username] = lock
	}
	return lock
}

// ReadAll returns the user's messages in arrival order. A missing mailbox
// is an empty mailbox, not an error.
func (s *Store) ReadAll(username string) ([]Message, error) {
	lock := s.userLock(username)
	lock.Lock()
	defer lock.Unlock()
	return s.readLocked(username)
}

func (s *Store) readLocked(username string) ([]Message, error) {
	content, err := os.ReadFile(s.Path(username))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mailbox for %s: %w", username, err)
	}
	return parseMessages(string(content)), nil
}

// Append durably adds one rendered message to the end of the user's mailbox,
// creating the user directory and mailbox file as needed.
func (s *Store) Append(username string, msg Message) error {
	lock := s.userLock(username)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.root, username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mailbox dir for %s: %w", username, err)
	}
	f, err := os.OpenFile(s.Path(username), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open mailbox for %s: %w", username, err)
	}
	if _, err := f.WriteString(msg.Render()); err != nil {
		f.Close()
		return fmt.Errorf("append to mailbox for %s: %w", username, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close mailbox for %s: %w", username, err)
	}
	return nil
}

// CommitDeletions rewrites the user's mailbox without the messages whose
// 1-based ordinals appear in deleted. The surviving messages keep their
// relative order. The mailbox is re-read under the same lock the rewrite
// holds, so the rewrite is built from the state at commit time.
func (s *Store) CommitDeletions(username string, deleted map[int]bool) error {
	if len(deleted) == 0 {
		return nil
	}
	lock := s.userLock(username)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.readLocked(username)
	if err != nil {
		return err
	}
	var kept []byte
	for i, msg := range messages {
		if deleted[i+1] {
			continue
		}
		kept = append(kept, msg.Render()...)
	}
	if err := os.WriteFile(s.Path(username), kept, 0o600); err != nil {
		return fmt.Errorf("rewrite mailbox for %s: %w", username, err)
	}
	return nil
}

// Stat returns the count and total byte size of the user's messages,
// excluding the given 1-based ordinals.
func (s *Store) Stat(username string, deleted map[int]bool) (count, size int, err error) {
	messages, err := s.ReadAll(username)
	if err != nil {
		return 0, 0, err
	}
	for i, msg := range messages {
		if deleted[i+1] {
			continue
		}
		count++
		size += msg.Size()
	}
	return count, size, nil
}

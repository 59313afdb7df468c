// Package userdb reads the operator-maintained user listing: one
// "username password" pair per line. The password starts after the first
// whitespace run and may itself contain spaces. The file is re-read on
// every call so operator edits take effect without a restart.
package userdb

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// LookupPassword returns the password for the given username. The second
// return value is false when the username is not listed.
func (s *Store) LookupPassword(username string) (string, bool, error) {
	var password string
	found := false
	err := s.scan(func(user, pass string) {
		if !found && user == username {
			password = pass
			found = true
		}
	})
	if err != nil {
		return "", false, err
	}
	return password, found, nil
}

// ValidUsernames returns the set of usernames present in the listing.
func (s *Store) ValidUsernames() (map[string]struct{}, error) {
	users := make(map[string]struct{})
	err := s.scan(func(user, _ string) {
		users[user] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Exists reports whether the username is present in the listing.
func (s *Store) Exists(username string) (bool, error) {
	users, err := s.ValidUsernames()
	if err != nil {
		return false, err
	}
	_, ok := users[username]
	return ok, nil
}

func (s *Store) scan(visit func(user, pass string)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open user listing: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		user, pass, ok := splitFirstRun(line)
		if !ok {
			// A username with no password column grants nobody access.
			continue
		}
		visit(user, pass)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read user listing: %w", err)
	}
	return nil
}

// splitFirstRun splits a line on its first whitespace run only.
func splitFirstRun(line string) (string, string, bool) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return "", "", false
	}
	user := line[:i]
	pass := strings.TrimLeft(line[i:], " \t")
	if pass == "" {
		return "", "", false
	}
	return user, pass, true
}

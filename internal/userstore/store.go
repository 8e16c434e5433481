// Package userstore persists user records as a single JSON array on disk.
//
// Every operation round-trips through the backing file; nothing is cached
// between calls. A missing file is an empty store.
package userstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// User is one record in the store. Field order here is the order keys are
// written to disk.
type User struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// Fields are the caller-supplied parts of a new user. None of them are
// validated beyond being strings.
type Fields struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// IDPolicy selects how Create assigns the id of a new record.
type IDPolicy int

const (
	// IDPolicyMax assigns one more than the largest existing id.
	IDPolicyMax IDPolicy = iota

	// IDPolicyCount assigns len(records)+1. After an out-of-band deletion
	// this hands out an id that is already in use.
	IDPolicyCount
)

func (p IDPolicy) String() string {
	switch p {
	case IDPolicyMax:
		return "max"
	case IDPolicyCount:
		return "count"
	default:
		return "unknown"
	}
}

// ParseIDPolicy maps "max" or "count" to an IDPolicy. The empty string
// selects IDPolicyMax.
func ParseIDPolicy(s string) (IDPolicy, error) {
	switch s {
	case "", "max":
		return IDPolicyMax, nil
	case "count":
		return IDPolicyCount, nil
	default:
		return 0, fmt.Errorf("unknown id policy %q (want max or count)", s)
	}
}

// Option configures a Store.
type Option func(*Store)

// WithIDPolicy overrides the default IDPolicyMax.
func WithIDPolicy(p IDPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// Store is a repository of users backed by one JSON file. It is safe for
// concurrent use within a process: Create holds a lock across its whole
// read-modify-write.
type Store struct {
	path   string
	policy IDPolicy

	mu sync.Mutex
}

// New returns a Store for the file at path. The file need not exist.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Policy returns the id assignment policy in effect.
func (s *Store) Policy() IDPolicy { return s.policy }

// ListAll returns every record in file order.
func (s *Store) ListAll() ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the first record with the given id. The boolean is false
// when no record matches; that case is not an error.
func (s *Store) Get(id int) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return User{}, false, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

// Create appends a record built from f and rewrites the file. It returns
// the id assigned to the new record.
func (s *Store) Create(f Fields) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return 0, err
	}

	id, err := nextID(users, s.policy)
	if err != nil {
		return 0, &CorruptError{Path: s.path, Err: err}
	}
	users = append(users, User{
		ID:      id,
		Name:    f.Name,
		Email:   f.Email,
		Address: f.Address,
		Phone:   f.Phone,
	})

	data, err := Marshal(users)
	if err != nil {
		return 0, &IOError{Op: "write", Path: s.path, Err: err}
	}
	if err := writeFile(s.path, data); err != nil {
		return 0, &IOError{Op: "write", Path: s.path, Err: err}
	}
	return id, nil
}

func nextID(users []User, policy IDPolicy) (int, error) {
	if policy == IDPolicyCount {
		return len(users) + 1, nil
	}
	max := 0
	for _, u := range users {
		if u.ID > max {
			max = u.ID
		}
	}
	if max == math.MaxInt {
		return 0, errIDSpaceExhausted
	}
	return max + 1, nil
}

// load reads the backing file. Callers must hold s.mu.
func (s *Store) load() ([]User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []User{}, nil
		}
		return nil, &IOError{Op: "read", Path: s.path, Err: err}
	}
	users, err := Unmarshal(data)
	if err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}
	return users, nil
}

// Marshal encodes users the way the store writes them: an indented JSON
// array, never null.
func Marshal(users []User) ([]byte, error) {
	if users == nil {
		users = []User{}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// record is the on-disk shape of a user. Pointers tell a missing or null
// key apart from a zero value.
type record struct {
	ID      *int    `json:"id"`
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
}

// Unmarshal decodes the contents of a store file. The document must be a
// JSON array of user objects, each with a positive integer id. String
// fields may be absent but not null. Unknown keys are ignored.
func Unmarshal(data []byte) ([]User, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}
	if trimmed[0] != '[' {
		return nil, errors.New("document is not a JSON array")
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, err
	}

	users := make([]User, 0, len(elems))
	for i, elem := range elems {
		u, err := decodeRecord(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		users = append(users, u)
	}
	return users, nil
}

func decodeRecord(elem json.RawMessage) (User, error) {
	elem = bytes.TrimSpace(elem)
	if len(elem) == 0 || elem[0] != '{' {
		return User{}, errors.New("not a JSON object")
	}

	// Null string fields are caught by comparing against the raw keys.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(elem, &keys); err != nil {
		return User{}, err
	}
	var r record
	if err := json.Unmarshal(elem, &r); err != nil {
		return User{}, err
	}

	if r.ID == nil {
		return User{}, errors.New("missing id")
	}
	if *r.ID <= 0 {
		return User{}, fmt.Errorf("id %d is not positive", *r.ID)
	}

	u := User{ID: *r.ID}
	for _, f := range []struct {
		key string
		src *string
		dst *string
	}{
		{"name", r.Name, &u.Name},
		{"email", r.Email, &u.Email},
		{"address", r.Address, &u.Address},
		{"phone", r.Phone, &u.Phone},
	} {
		if f.src != nil {
			*f.dst = *f.src
			continue
		}
		if _, present := keys[f.key]; present {
			return User{}, fmt.Errorf("%s is null", f.key)
		}
	}
	return u, nil
}

// writeFile atomically replaces path with data. An existing file keeps its
// permission bits; a new one is created 0644 before umask.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644, renameio.WithExistingPermissions())
}

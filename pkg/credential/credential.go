// Package credential loads login profiles from a local CSV or YAML file.
// Profiles are read once and never written back; nothing is fetched from
// the network.
package credential

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownProfile is returned when a label is not in the store.
var ErrUnknownProfile = errors.New("unknown credential profile")

// Credential is one login profile. It is passed by value and never changed
// after loading.
type Credential struct {
	Label          string `yaml:"label"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	EnablePassword string `yaml:"enable_password,omitempty"`
}

// Enable returns the enable password, falling back to the login password.
func (c Credential) Enable() string {
	if c.EnablePassword != "" {
		return c.EnablePassword
	}
	return c.Password
}

// IsZero reports whether no credential has been selected.
func (c Credential) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// String never includes secrets.
func (c Credential) String() string {
	return fmt.Sprintf("%s (%s)", c.Label, c.Username)
}

// Store is an immutable set of credentials keyed by label.
type Store struct {
	path  string
	creds map[string]Credential
}

// NewStore builds a store from credentials. Later duplicates win.
func NewStore(creds ...Credential) *Store {
	s := &Store{creds: make(map[string]Credential, len(creds))}
	for _, c := range creds {
		s.creds[c.Label] = c
	}
	return s
}

// Load reads a .csv, .yaml or .yml credential file.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials: %w", err)
	}
	defer f.Close()

	var creds []Credential
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		creds, err = ReadCSV(f)
	case ".yaml", ".yml":
		creds, err = ReadYAML(f)
	default:
		return nil, fmt.Errorf("credentials %s: unsupported format (want .csv or .yaml)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("credentials %s: %w", path, err)
	}

	s := NewStore(creds...)
	s.path = path
	return s, nil
}

// ReadCSV parses the credentials,username,password,enable_password layout.
// The enable_password column may be missing or empty.
func ReadCSV(r io.Reader) ([]Credential, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"credentials", "username", "password"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var creds []Credential
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c := Credential{
			Label:          field(rec, "credentials"),
			Username:       field(rec, "username"),
			Password:       field(rec, "password"),
			EnablePassword: field(rec, "enable_password"),
		}
		if c.Label == "" {
			continue
		}
		creds = append(creds, c)
	}
	return creds, nil
}

type yamlFile struct {
	Credentials []Credential `yaml:"credentials"`
}

// ReadYAML parses a document with a top-level "credentials" list.
func ReadYAML(r io.Reader) ([]Credential, error) {
	var doc yamlFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	for i, c := range doc.Credentials {
		if c.Label == "" {
			return nil, fmt.Errorf("credential %d has no label", i+1)
		}
	}
	return doc.Credentials, nil
}

// Path returns the file the store was loaded from, if any.
func (s *Store) Path() string {
	return s.path
}

// Get returns the credential with the given label.
func (s *Store) Get(label string) (Credential, error) {
	c, ok := s.creds[label]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %q", ErrUnknownProfile, label)
	}
	return c, nil
}

// Labels returns all labels, sorted.
func (s *Store) Labels() []string {
	labels := make([]string, 0, len(s.creds))
	for l := range s.creds {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Len returns the number of profiles.
func (s *Store) Len() int {
	return len(s.creds)
}

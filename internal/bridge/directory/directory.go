// Package directory maps symbolic transfer targets to call destinations.
package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/emiago/sipgo/sip"
	"gopkg.in/yaml.v3"
)

// Kind is the type of a destination.
type Kind string

const (
	KindPhone Kind = "phone"
	KindSIP   Kind = "sip"
)

// ErrUnknownTarget is returned when a target key has no entry.
var ErrUnknownTarget = errors.New("unknown transfer target")

// Entry is one immutable directory row.
type Entry struct {
	Key         string `yaml:"key" json:"target_key"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	Destination string `yaml:"destination" json:"destination"`
}

// Validate normalises Kind and checks the destination format.
func (e *Entry) Validate() error {
	if e.Key == "" {
		return errors.New("key required")
	}
	if e.Destination == "" {
		return errors.New("destination required")
	}
	if e.Kind == "" {
		if strings.HasPrefix(strings.ToLower(e.Destination), "sip:") {
			e.Kind = KindSIP
		} else {
			e.Kind = KindPhone
		}
	}

	switch e.Kind {
	case KindSIP:
		var uri sip.Uri
		if err := sip.ParseUri(e.Destination, &uri); err != nil {
			return fmt.Errorf("invalid sip destination %q: %w", e.Destination, err)
		}
		if uri.Host == "" {
			return fmt.Errorf("sip destination %q has no host", e.Destination)
		}
	case KindPhone:
		if !isPhoneNumber(e.Destination) {
			return fmt.Errorf("invalid phone destination %q", e.Destination)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

// File is the YAML document layout.
type File struct {
	Version      string  `yaml:"version"`
	Destinations []Entry `yaml:"destinations"`
}

// Directory is a read-only key → Entry table. Safe for concurrent use because it is
// never mutated after construction.
type Directory struct {
	entries map[string]Entry
}

// New builds a Directory, rejecting invalid or duplicate entries.
func New(entries []Entry) (*Directory, error) {
	d := &Directory{entries: make(map[string]Entry, len(entries))}
	for i := range entries {
		e := entries[i]
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.Key, err)
		}
		if _, dup := d.entries[e.Key]; dup {
			return nil, fmt.Errorf("entry %d: duplicate key %q", i, e.Key)
		}
		d.entries[e.Key] = e
	}
	return d, nil
}

// Load reads a Directory from a YAML file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}

	d, err := New(f.Destinations)
	if err != nil {
		return nil, err
	}

	slog.Info("[Directory] Loaded destinations",
		"path", path,
		"count", d.Len(),
		"version", f.Version,
	)
	return d, nil
}

// Resolve looks up a target key. Matching is exact and case-sensitive.
func (d *Directory) Resolve(key string) (Entry, bool) {
	e, ok := d.entries[key]
	return e, ok
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	return len(d.entries)
}

// Keys returns the sorted target keys.
func (d *Directory) Keys() []string {
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isPhoneNumber(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

package contacts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateAlias is returned when two entries collapse onto the same alias.
	ErrDuplicateAlias = errors.New("duplicate alias")

	// ErrDuplicateHandle is returned when two entries normalize to the same handle.
	ErrDuplicateHandle = errors.New("duplicate handle")
)

// Entry is one alias→handle pair of a Directory.
type Entry struct {
	Alias  string
	Handle string
}

// Directory is the immutable bidirectional mapping between user-chosen
// aliases and normalized real handles. It is built once at startup and is
// safe for unsynchronized concurrent reads.
type Directory struct {
	byAlias  map[string]string // alias → normalized handle
	byHandle map[string]string // normalized handle → alias
	aliases  []string          // sorted
}

// NewDirectory builds a Directory from an alias→raw-handle mapping.
// Aliases are lower-cased and trimmed; handles are normalized. Entries
// that are empty after trimming are skipped. Construction fails if two
// entries collapse onto the same alias or handle, or if a handle cannot
// be normalized.
func NewDirectory(raw map[string]string) (*Directory, error) {
	d := &Directory{
		byAlias:  make(map[string]string, len(raw)),
		byHandle: make(map[string]string, len(raw)),
	}

	for alias, handle := range raw {
		alias = strings.ToLower(strings.TrimSpace(alias))
		handle = strings.TrimSpace(handle)
		if alias == "" || handle == "" {
			continue
		}

		norm, err := Normalize(handle)
		if err != nil {
			return nil, fmt.Errorf("contact %q: %w", alias, err)
		}
		if _, ok := d.byAlias[alias]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAlias, alias)
		}
		if other, ok := d.byHandle[norm]; ok {
			return nil, fmt.Errorf("%w: %q and %q both map to %s", ErrDuplicateHandle, other, alias, norm)
		}

		d.byAlias[alias] = norm
		d.byHandle[norm] = alias
		d.aliases = append(d.aliases, alias)
	}

	sort.Strings(d.aliases)
	return d, nil
}

// ResolveToHandle resolves an alias to its normalized handle.
func (d *Directory) ResolveToHandle(alias string) (string, bool) {
	h, ok := d.byAlias[strings.ToLower(strings.TrimSpace(alias))]
	return h, ok
}

// ResolveToAlias resolves a raw or normalized handle to its alias.
func (d *Directory) ResolveToAlias(handle string) (string, bool) {
	norm, err := Normalize(handle)
	if err != nil {
		return "", false
	}
	a, ok := d.byHandle[norm]
	return a, ok
}

// KnownHandle reports whether the raw handle belongs to any contact.
func (d *Directory) KnownHandle(handle string) bool {
	_, ok := d.ResolveToAlias(handle)
	return ok
}

// Aliases returns the sorted alias list. The caller must not modify it.
func (d *Directory) Aliases() []string { return d.aliases }

// Entries returns all alias→handle pairs, sorted by alias.
func (d *Directory) Entries() []Entry {
	entries := make([]Entry, 0, len(d.aliases))
	for _, a := range d.aliases {
		entries = append(entries, Entry{Alias: a, Handle: d.byAlias[a]})
	}
	return entries
}

// Len returns the number of contacts.
func (d *Directory) Len() int { return len(d.byAlias) }

package reload

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/funvibe/hotreload/internal/program"
)

// LibraryID identifies a library for the lifetime of an engine. A URI keeps
// its ID across reloads, including after being removed and added back.
type LibraryID int

var ErrUnknownLibrary = errors.New("unknown library")

// LibraryInfo describes one library of the current program.
type LibraryInfo struct {
	ID         LibraryID
	URI        string
	Debuggable bool
}

type libraryEntry struct {
	uri        string
	debuggable bool
	live       bool
}

// Libraries tracks library IDs and debuggable flags. Debuggers skip
// frames of non-debuggable libraries; the flag is embedder state and is
// kept across reloads.
type Libraries struct {
	mu      sync.Mutex
	def     bool
	byURI   map[string]LibraryID
	entries []*libraryEntry
}

func newLibraries(debuggableDefault bool) *Libraries {
	return &Libraries{def: debuggableDefault, byURI: map[string]LibraryID{}}
}

// sync makes the libraries of p the live set. New URIs get an ID and the
// default flag.
func (l *Libraries) sync(p *program.Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		e.live = false
	}
	for _, lib := range p.Libraries() {
		id, ok := l.byURI[lib.URI]
		if !ok {
			l.entries = append(l.entries, &libraryEntry{uri: lib.URI, debuggable: l.def})
			id = LibraryID(len(l.entries))
			l.byURI[lib.URI] = id
		}
		l.entries[id-1].live = true
	}
}

func (l *Libraries) entry(id LibraryID) (*libraryEntry, error) {
	if id < 1 || int(id) > len(l.entries) || !l.entries[id-1].live {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownLibrary, id)
	}
	return l.entries[id-1], nil
}

// Lookup returns the ID of a library of the current program.
func (l *Libraries) Lookup(uri string) (LibraryID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byURI[uri]
	if !ok || !l.entries[id-1].live {
		return 0, false
	}
	return id, true
}

func (l *Libraries) IsDebuggable(id LibraryID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.entry(id)
	if err != nil {
		return false, err
	}
	return e.debuggable, nil
}

func (l *Libraries) SetDebuggable(id LibraryID, debuggable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.entry(id)
	if err != nil {
		return err
	}
	e.debuggable = debuggable
	return nil
}

// List returns the live libraries ordered by URI.
func (l *Libraries) List() []LibraryInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LibraryInfo
	for i, e := range l.entries {
		if e.live {
			out = append(out, LibraryInfo{ID: LibraryID(i + 1), URI: e.uri, Debuggable: e.debuggable})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

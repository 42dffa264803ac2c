package breakpoint

import (
	"path"
	"strings"
	"sync"
)

// Mapping pairs a path prefix on the engine host with its local counterpart.
type Mapping struct {
	Remote string `json:"remote" toml:"remote" yaml:"remote"`
	Local  string `json:"local" toml:"local" yaml:"local"`
}

// PathMapper translates file paths between the local and remote
// namespaces. Mappings are tried in order and the first one whose prefix
// occurs in the path wins.
type PathMapper struct {
	mu       sync.RWMutex
	mappings []Mapping
	warned   map[string]bool

	// OnUnmapped is called once per path that no mapping covers.
	OnUnmapped func(path string)
}

// NewPathMapper creates a mapper with the given mappings.
func NewPathMapper(mappings []Mapping) *PathMapper {
	m := &PathMapper{warned: make(map[string]bool)}
	m.SetMappings(mappings)
	return m
}

// SetMappings replaces the mapping list.
func (m *PathMapper) SetMappings(mappings []Mapping) {
	cleaned := make([]Mapping, 0, len(mappings))
	for _, mp := range mappings {
		if mp.Remote == "" || mp.Local == "" {
			continue
		}
		cleaned = append(cleaned, Mapping{Remote: normalize(mp.Remote), Local: normalize(mp.Local)})
	}

	m.mu.Lock()
	m.mappings = cleaned
	m.warned = make(map[string]bool)
	m.mu.Unlock()
}

// Mappings returns the current mapping list.
func (m *PathMapper) Mappings() []Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Mapping(nil), m.mappings...)
}

// ToRemote maps a local path to the engine's namespace.
func (m *PathMapper) ToRemote(local string) (string, bool) {
	return m.translate(local, true)
}

// ToLocal maps an engine path to the local namespace.
func (m *PathMapper) ToLocal(remote string) (string, bool) {
	return m.translate(remote, false)
}

func (m *PathMapper) translate(p string, toRemote bool) (string, bool) {
	if p == "" {
		return p, false
	}
	norm := normalize(p)

	m.mu.RLock()
	for _, mp := range m.mappings {
		from, to := mp.Remote, mp.Local
		if toRemote {
			from, to = mp.Local, mp.Remote
		}
		if strings.Contains(norm, from) {
			m.mu.RUnlock()
			return strings.Replace(norm, from, to, 1), true
		}
	}
	m.mu.RUnlock()

	m.warn(p)
	return p, false
}

func (m *PathMapper) warn(p string) {
	// Lua reports C functions as =[C]; they have no file.
	if p == "=[C]" {
		return
	}

	m.mu.Lock()
	seen := m.warned[p]
	m.warned[p] = true
	h := m.OnUnmapped
	m.mu.Unlock()

	if !seen && h != nil {
		h(p)
	}
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) >= 2 && p[1] == ':' {
		// Windows drive paths keep their drive letter.
		return p[:2] + path.Clean("/"+p[2:])
	}
	return path.Clean(p)
}

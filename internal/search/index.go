package search

import (
	"sort"
	"strings"
	"sync"
)

// Index matches stored-file ids by name without touching any plaintext
// content. Names are folded to lower case; a query matches when every
// whitespace-separated term is a substring of the indexed name.
type Index struct {
	mu    sync.RWMutex
	names map[string]string // id -> folded name
}

func New() *Index {
	return &Index{names: make(map[string]string)}
}

func (x *Index) Add(id, name string) {
	x.mu.Lock()
	x.names[id] = strings.ToLower(name)
	x.mu.Unlock()
}

func (x *Index) Remove(id string) {
	x.mu.Lock()
	delete(x.names, id)
	x.mu.Unlock()
}

func (x *Index) Clear() {
	x.mu.Lock()
	x.names = make(map[string]string)
	x.mu.Unlock()
}

// Query returns matching ids sorted for stable output. An empty query
// matches nothing.
func (x *Index) Query(q string) []string {
	terms := strings.Fields(strings.ToLower(q))
	if len(terms) == 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	var ids []string
	for id, name := range x.names {
		ok := true
		for _, t := range terms {
			if !strings.Contains(name, t) {
				ok = false
				break
			}
		}
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

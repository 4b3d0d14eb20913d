package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Request is one discovered task request.
type Request struct {
	TaskID string // filename minus extension, the unit of pipeline execution
	Path   string
}

// Source yields candidate task requests. The polling implementation below
// is the default; an event-driven implementation can replace it without
// touching the watcher or controller.
type Source interface {
	Discover() ([]Request, error)
}

// DirSource discovers requests by listing a directory. One file per task;
// the identifier is derived deterministically from the filename.
type DirSource struct {
	Dir string
}

// Discover lists request files in lexical order. A missing directory is
// not an error; it simply yields nothing until an operator creates it.
func (s *DirSource) Discover() ([]Request, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read request dir %s: %w", s.Dir, err)
	}

	var reqs []Request
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if id == "" {
			continue
		}
		reqs = append(reqs, Request{TaskID: id, Path: filepath.Join(s.Dir, e.Name())})
	}

	sort.Slice(reqs, func(i, j int) bool { return reqs[i].TaskID < reqs[j].TaskID })
	return reqs, nil
}

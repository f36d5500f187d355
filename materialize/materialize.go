package materialize

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

// ErrEmptyAsset is returned when an upload is absent or has no content.
// Callers are expected to check for it before anything touches the disk.
var ErrEmptyAsset = errors.New("empty upload")

// ErrEmptyPath is returned by Adopt when no path was given.
var ErrEmptyPath = errors.New("empty path")

// ErrNotFound is returned by Get for unknown or evicted files.
var ErrNotFound = errors.New("file not found")

// Asset is an uploaded file held in memory.
type Asset struct {
	Name string
	Data []byte
}

// File is an asset written to disk, or an existing local
// file adopted into a registry.
type File struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Ext       string    `json:"ext"`
	Size      int64     `json:"size"`
	Owned     bool      `json:"owned"`
	CreatedAt time.Time `json:"created_at"`
}

// Suffix picks the temp file suffix for an upload. A declared
// type wins; otherwise the last dot-separated component of the
// filename is used. Names without a dot get no suffix.
func Suffix(name, declared string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return "." + strings.ToLower(strings.TrimPrefix(declared, "."))
	}
	name = filepath.Base(name)
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return "." + strings.ToLower(name[i+1:])
}

// Registry tracks the files materialized for one session. It holds
// at most capacity files; the least recently used one is evicted
// (and deleted if owned) when a new file would exceed that. A pinned
// file that is evicted stays on disk until its last pin is released.
type Registry struct {
	dir     string
	files   *lru.Cache
	pins    map[string]int
	orphans map[string]*File
	l       sync.Mutex
}

// NewRegistry creates a registry that writes into dir. An empty
// dir means os.TempDir().
func NewRegistry(dir string, capacity int) (*Registry, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir: %v", err)
	}
	r := &Registry{
		dir:     dir,
		pins:    make(map[string]int),
		orphans: make(map[string]*File),
	}
	cache, err := lru.NewWithEvict(capacity, func(_ interface{}, value interface{}) {
		r.evict(value.(*File))
	})
	if err != nil {
		return nil, fmt.Errorf("lru: %v", err)
	}
	r.files = cache
	return r, nil
}

func (r *Registry) evict(f *File) {
	r.l.Lock()
	defer r.l.Unlock()
	if r.pins[f.ID] > 0 {
		r.orphans[f.ID] = f
		return
	}
	remove(f)
}

// Pin keeps the given files on disk until the returned release func
// is called, even if they are evicted in the meantime. Release is
// safe to call more than once.
func (r *Registry) Pin(ids ...string) (func(), error) {
	r.l.Lock()
	for _, id := range ids {
		r.pins[id]++
	}
	r.l.Unlock()
	var once sync.Once
	release := func() {
		once.Do(func() {
			for _, id := range ids {
				r.unpin(id)
			}
		})
	}
	// Pins are taken first so that an eviction racing with this
	// check leaves the file orphaned rather than deleted.
	for _, id := range ids {
		if !r.files.Contains(id) {
			release()
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
	}
	return release, nil
}

func (r *Registry) unpin(id string) {
	r.l.Lock()
	defer r.l.Unlock()
	if r.pins[id]--; r.pins[id] > 0 {
		return
	}
	delete(r.pins, id)
	if f, ok := r.orphans[id]; ok {
		delete(r.orphans, id)
		remove(f)
	}
}

func remove(f *File) {
	if !f.Owned {
		return
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to remove %s: %v", f.Path, err)
	}
}

// Materialize writes the asset's bytes to a new, uniquely named
// file in the registry directory and returns its record.
func (r *Registry) Materialize(a Asset, suffix string) (*File, error) {
	if len(a.Data) == 0 {
		return nil, ErrEmptyAsset
	}
	id := uuid.New().String()
	tmp, err := os.CreateTemp(r.dir, "molsuite-"+id[:8]+"-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("create temp: %v", err)
	}
	n, err := tmp.Write(a.Data)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("close: %v", err)
	}
	f := &File{
		ID:        id,
		Name:      a.Name,
		Path:      tmp.Name(),
		Ext:       suffix,
		Size:      int64(n),
		Owned:     true,
		CreatedAt: time.Now(),
	}
	r.files.Add(id, f)
	return f, nil
}

// MaterializeAll writes each asset to its own file. suffixes is
// matched to assets by index; a missing entry means Suffix(name, "").
// If any asset fails, the files created by this call are released.
func (r *Registry) MaterializeAll(assets []Asset, suffixes []string) ([]*File, error) {
	files := make([]*File, 0, len(assets))
	for i, a := range assets {
		suffix := Suffix(a.Name, "")
		if i < len(suffixes) && suffixes[i] != "" {
			suffix = suffixes[i]
		}
		f, err := r.Materialize(a, suffix)
		if err != nil {
			for _, done := range files {
				r.Release(done.ID)
			}
			return nil, fmt.Errorf("%s: %w", a.Name, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// Adopt registers an existing local file so it can be served and
// referenced like a materialized one. Adopted files are never
// deleted by the registry.
func (r *Registry) Adopt(path string) (*File, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("abs: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("'%s' is a directory", path)
	}
	f := &File{
		ID:        uuid.New().String(),
		Name:      filepath.Base(abs),
		Path:      abs,
		Ext:       Suffix(abs, ""),
		Size:      info.Size(),
		CreatedAt: time.Now(),
	}
	r.files.Add(f.ID, f)
	return f, nil
}

// Get returns the file with the given ID and marks it recently used.
func (r *Registry) Get(id string) (*File, error) {
	v, ok := r.files.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*File), nil
}

// Release forgets a file, deleting it if the registry owns it.
func (r *Registry) Release(id string) {
	r.files.Remove(id)
}

// Purge releases every file.
func (r *Registry) Purge() {
	r.files.Purge()
}

// Len is the number of tracked files.
func (r *Registry) Len() int {
	return r.files.Len()
}

// Dir is where materialized files are written.
func (r *Registry) Dir() string {
	return r.dir
}

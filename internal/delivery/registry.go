package delivery

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/MobileShell/gateway/internal/shared/id"
)

// ServedFile is one registration: a local file addressable through the
// current session until unregistered, expired, or the server stops.
type ServedFile struct {
	ID          id.FileID
	Path        string
	DisplayName string
	MimeType    string
	CreatedAt   time.Time
}

// fileRegistry is the mutable map of served files. All delivery server
// goroutines (handlers, sweeper, API calls) share it under one mutex.
type fileRegistry struct {
	mu    sync.Mutex
	files map[id.FileID]*ServedFile
}

func newFileRegistry() *fileRegistry {
	return &fileRegistry{files: make(map[id.FileID]*ServedFile)}
}

func (r *fileRegistry) add(f *ServedFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.ID] = f
}

func (r *fileRegistry) get(fid id.FileID) (*ServedFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fid]
	return f, ok
}

func (r *fileRegistry) remove(fid id.FileID) (*ServedFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[fid]
	if ok {
		delete(r.files, fid)
	}
	return f, ok
}

func (r *fileRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// expire removes and returns every entry created at or before the cutoff.
func (r *fileRegistry) expire(cutoff time.Time) []*ServedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*ServedFile
	for fid, f := range r.files {
		if !f.CreatedAt.After(cutoff) {
			expired = append(expired, f)
			delete(r.files, fid)
		}
	}
	return expired
}

// drain removes and returns everything. Used by Stop.
func (r *fileRegistry) drain() []*ServedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*ServedFile, 0, len(r.files))
	for _, f := range r.files {
		all = append(all, f)
	}
	r.files = make(map[id.FileID]*ServedFile)
	return all
}

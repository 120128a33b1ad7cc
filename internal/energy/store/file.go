package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clambin/radialight-monitor/internal/energy"
)

const fileVersion = 1

// FileStore keeps all states in a single JSON document. Each Save replaces the document atomically.
type FileStore struct {
	path string
	lock sync.Mutex
}

type document struct {
	Version     int                     `json:"version"`
	LastUpdated time.Time               `json:"last_updated"`
	States      map[string]energy.State `json:"states"`
}

var _ Store = &FileStore{}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context, scope string) (energy.State, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	doc, err := f.read()
	if err != nil {
		return energy.State{}, &PersistenceError{Kind: ReadFailed, Scope: scope, Err: err}
	}
	state, ok := doc.States[scope]
	if !ok {
		return energy.State{}, ErrNotFound
	}
	return state, nil
}

func (f *FileStore) Save(ctx context.Context, scope string, state energy.State) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return &PersistenceError{Kind: WriteFailed, Scope: scope, Err: err}
	}

	doc, err := f.read()
	if err != nil {
		// don't overwrite a document we can't read
		return &PersistenceError{Kind: WriteFailed, Scope: scope, Err: err}
	}
	doc.States[scope] = state
	doc.LastUpdated = time.Now().UTC()
	if err = f.write(doc); err != nil {
		return &PersistenceError{Kind: WriteFailed, Scope: scope, Err: err}
	}
	return nil
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) read() (document, error) {
	doc := document{Version: fileVersion, States: make(map[string]energy.State)}
	body, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err = json.Unmarshal(body, &doc); err != nil {
		return doc, fmt.Errorf("%s: %w", f.path, err)
	}
	if doc.States == nil {
		doc.States = make(map[string]energy.State)
	}
	return doc, nil
}

// write replaces the document: write to a temp file in the same directory, sync, then rename over the original.
func (f *FileStore) write(doc document) error {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(body); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), f.path)
	}
	return err
}

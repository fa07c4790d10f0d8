// Package testutil provides test doubles shared across packages.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/docuchat/docuchat/internal/gemini"
)

// ErrNotFound mimics the service's 404-class error text so
// gemini.IsNotFound recognizes it.
var ErrNotFound = errors.New("resource not found (404)")

// FakeService is an in-memory stand-in for *gemini.Client. It satisfies
// the consumer interfaces of the index and ingest packages. Behavior is
// overridable per call through the *Func hooks; counters track calls.
//
// The zero value is not useful; use NewFakeService.
type FakeService struct {
	mu sync.Mutex

	stores map[string]string // resource name -> display name
	files  map[string][]byte // resource name -> content
	ops    map[string]int    // operation name -> polls remaining until done

	nextID atomic.Int64

	// Call counters (atomic).
	CreateStoreCalls atomic.Int32
	GetStoreCalls    atomic.Int32
	UploadCalls      atomic.Int32
	ImportCalls      atomic.Int32
	PollCalls        atomic.Int32
	DeleteFileCalls  atomic.Int32

	// PollsUntilDone is how many polls an import needs before reporting
	// done. Zero means the operation completes immediately.
	PollsUntilDone int

	// OperationErr, when set, is reported by completed operations as the
	// server-side indexing failure.
	OperationErr error

	// Optional per-method overrides.
	CreateStoreFunc func(ctx context.Context, displayName string) (*gemini.Store, error)
	GetStoreFunc    func(ctx context.Context, name string) (*gemini.Store, error)
	UploadFunc      func(ctx context.Context, r io.Reader, displayName, mimeType string) (string, error)
	ImportFunc      func(ctx context.Context, storeName, fileName string) (*gemini.Operation, error)
	PollFunc        func(ctx context.Context, op *gemini.Operation) (*gemini.Operation, error)
	DeleteFileFunc  func(ctx context.Context, name string) error
}

// NewFakeService creates an empty fake.
func NewFakeService() *FakeService {
	return &FakeService{
		stores: make(map[string]string),
		files:  make(map[string][]byte),
		ops:    make(map[string]int),
	}
}

func (f *FakeService) id(prefix string) string {
	n := f.nextID.Add(1)
	return fmt.Sprintf("%s/%d", prefix, n)
}

// CreateStore records a new store.
func (f *FakeService) CreateStore(ctx context.Context, displayName string) (*gemini.Store, error) {
	f.CreateStoreCalls.Add(1)
	if f.CreateStoreFunc != nil {
		return f.CreateStoreFunc(ctx, displayName)
	}

	name := f.id("fileSearchStores")
	f.mu.Lock()
	f.stores[name] = displayName
	f.mu.Unlock()
	return &gemini.Store{Name: name, DisplayName: displayName}, nil
}

// GetStore returns a recorded store or a not-found-class error.
func (f *FakeService) GetStore(ctx context.Context, name string) (*gemini.Store, error) {
	f.GetStoreCalls.Add(1)
	if f.GetStoreFunc != nil {
		return f.GetStoreFunc(ctx, name)
	}

	f.mu.Lock()
	displayName, ok := f.stores[name]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("store %s: %w", name, ErrNotFound)
	}
	return &gemini.Store{Name: name, DisplayName: displayName}, nil
}

// DeleteStore forgets a store.
func (f *FakeService) DeleteStore(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.stores[name]; !ok {
		return fmt.Errorf("store %s: %w", name, ErrNotFound)
	}
	delete(f.stores, name)
	return nil
}

// ForgetStore simulates out-of-band deletion: the server loses the store
// but the client still holds its handle.
func (f *FakeService) ForgetStore(name string) {
	f.mu.Lock()
	delete(f.stores, name)
	f.mu.Unlock()
}

// UploadFile records an upload and returns its resource name.
func (f *FakeService) UploadFile(ctx context.Context, r io.Reader, displayName, mimeType string) (string, error) {
	f.UploadCalls.Add(1)
	if f.UploadFunc != nil {
		return f.UploadFunc(ctx, r, displayName, mimeType)
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	name := f.id("files")
	f.mu.Lock()
	f.files[name] = content
	f.mu.Unlock()
	return name, nil
}

// ImportFile starts a scripted operation.
func (f *FakeService) ImportFile(ctx context.Context, storeName, fileName string) (*gemini.Operation, error) {
	f.ImportCalls.Add(1)
	if f.ImportFunc != nil {
		return f.ImportFunc(ctx, storeName, fileName)
	}

	f.mu.Lock()
	_, storeOK := f.stores[storeName]
	_, fileOK := f.files[fileName]
	f.mu.Unlock()
	if !storeOK {
		return nil, fmt.Errorf("store %s: %w", storeName, ErrNotFound)
	}
	if !fileOK {
		return nil, fmt.Errorf("file %s: %w", fileName, ErrNotFound)
	}

	opName := f.id("operations")
	f.mu.Lock()
	f.ops[opName] = f.PollsUntilDone
	f.mu.Unlock()

	if f.PollsUntilDone == 0 {
		return &gemini.Operation{Name: opName, Done: true, Err: f.OperationErr}, nil
	}
	return &gemini.Operation{Name: opName}, nil
}

// PollOperation refreshes a scripted operation, completing it when its
// remaining poll count reaches zero.
func (f *FakeService) PollOperation(ctx context.Context, op *gemini.Operation) (*gemini.Operation, error) {
	f.PollCalls.Add(1)
	if f.PollFunc != nil {
		return f.PollFunc(ctx, op)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	remaining, ok := f.ops[op.Name]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", op.Name, ErrNotFound)
	}
	if remaining <= 1 {
		delete(f.ops, op.Name)
		return &gemini.Operation{Name: op.Name, Done: true, Err: f.OperationErr}, nil
	}
	f.ops[op.Name] = remaining - 1
	return &gemini.Operation{Name: op.Name}, nil
}

// DeleteFile forgets an uploaded file.
func (f *FakeService) DeleteFile(ctx context.Context, name string) error {
	f.DeleteFileCalls.Add(1)
	if f.DeleteFileFunc != nil {
		return f.DeleteFileFunc(ctx, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return fmt.Errorf("file %s: %w", name, ErrNotFound)
	}
	delete(f.files, name)
	return nil
}

// StoreCount reports how many stores currently exist.
func (f *FakeService) StoreCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stores)
}

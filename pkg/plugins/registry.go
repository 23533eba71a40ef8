package plugins

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// Registry resolves plugin references to processors. Named processors are registered at
// startup; WebAssembly processors are compiled on first use and kept for the life of the registry.
type Registry struct {
	mu     sync.RWMutex
	named  map[string]Processor
	wasm   map[string]*WasmProcessor // key: absolute module path
	dir    string
	logger *zap.Logger
}

// NewRegistry creates a registry. Relative module paths are resolved against dir.
func NewRegistry(dir string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		named:  make(map[string]Processor),
		wasm:   make(map[string]*WasmProcessor),
		dir:    dir,
		logger: logger,
	}
}

// Register adds a named processor, replacing any previous one with the same name.
func (r *Registry) Register(name string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[strings.ToLower(name)] = p
}

// Names returns the registered processor names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.named))
	for n := range r.named {
		names = append(names, n)
	}
	return names
}

// Resolve returns the processor for ref. A reference whose path ends in .wasm loads a
// WebAssembly module; otherwise the name (or class) must be registered.
func (r *Registry) Resolve(ctx context.Context, ref *models.PluginReference) (Processor, error) {
	if ref == nil {
		return nil, nil
	}

	if strings.EqualFold(filepath.Ext(ref.Path), ".wasm") {
		return r.loadWasm(ctx, ref)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range []string{ref.Name, ref.ClassName} {
		if name == "" {
			continue
		}
		if p, ok := r.named[strings.ToLower(name)]; ok {
			return p, nil
		}
	}
	return nil, apperrors.Wrap(apperrors.KindPlugin, describe(ref), fmt.Errorf("%w: processor is not registered", apperrors.ErrNotFound))
}

func (r *Registry) loadWasm(ctx context.Context, ref *models.PluginReference) (Processor, error) {
	path := ref.Path
	if !filepath.IsAbs(path) && r.dir != "" {
		path = filepath.Join(r.dir, path)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPlugin, describe(ref), err)
	}

	r.mu.RLock()
	p, ok := r.wasm[path]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.wasm[path]; ok {
		return p, nil
	}

	p, err = NewWasmProcessor(ctx, path, r.logger.Named("wasm"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPlugin, describe(ref), err)
	}
	r.wasm[path] = p
	r.logger.Info("loaded wasm processor", zap.String("name", ref.Name), zap.String("path", path))
	return p, nil
}

// Close releases every compiled WebAssembly module.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, p := range r.wasm {
		if err := p.Close(ctx); err != nil {
			r.logger.Warn("failed to close wasm processor", zap.String("path", path), zap.Error(err))
		}
	}
	r.wasm = make(map[string]*WasmProcessor)
	return nil
}

func describe(ref *models.PluginReference) string {
	return fmt.Sprintf("processor %q (path %q, class %q)", ref.Name, ref.Path, ref.ClassName)
}

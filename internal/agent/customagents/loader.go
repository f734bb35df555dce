package customagents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/neboloop/nebo/internal/logging"
)

// Loader discovers CustomAgent definitions from a user-scope directory and
// an optional repo-scope directory, and keeps the merged table in sync with
// the filesystem via fsnotify.
type Loader struct {
	mu      sync.RWMutex
	agents  map[string]*CustomAgent // name -> agent, post-precedence merge
	errors  []LoadError

	userRoot string
	repoRoot string

	watcher   *fsnotify.Watcher
	onChange  func([]*CustomAgent)
	cancelCtx context.CancelFunc
}

// NewLoader constructs a Loader. repoRoot may be empty when the cwd is not
// inside a git project; only userRoot is then scanned.
func NewLoader(dataDir, repoRoot string) *Loader {
	l := &Loader{agents: make(map[string]*CustomAgent), userRoot: userAgentsRoot(dataDir)}
	if repoRoot != "" {
		l.repoRoot = repoAgentsRoot(repoRoot)
	}
	return l
}

// LoadAll scans both scope directories and rebuilds the merged table.
// Repo-scope agents override user-scope agents sharing the same name.
func (l *Loader) LoadAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]*CustomAgent)
	var loadErrors []LoadError

	roots := []struct {
		scope Scope
		dir   string
	}{
		{ScopeUser, l.userRoot},
	}
	if l.repoRoot != "" {
		roots = append(roots, struct {
			scope Scope
			dir   string
		}{ScopeRepo, l.repoRoot})
	}

	for _, root := range roots {
		entries, err := os.ReadDir(root.dir)
		if err != nil {
			continue // scope directory may simply not exist yet
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".md") {
				continue
			}

			path := filepath.Join(root.dir, entry.Name())
			agent, err := l.loadOne(path, root.scope)
			if err != nil {
				loadErrors = append(loadErrors, LoadError{Path: path, Message: err.Error()})
				continue
			}

			existing, ok := merged[agent.Name]
			if !ok || root.scope == ScopeRepo || existing.Scope != ScopeRepo {
				merged[agent.Name] = agent
			}
		}
	}

	l.agents = merged
	l.errors = loadErrors

	logging.Infof("[customagents] loaded %d agents (%d errors)", len(l.agents), len(l.errors))
	return nil
}

func (l *Loader) loadOne(path string, scope Scope) (*CustomAgent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	agent, err := parseAgentFile(path, stem, string(data), scope)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// Watch starts a goroutine that re-runs LoadAll whenever a .md file changes
// in either scope directory.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	ctx, cancel := context.WithCancel(ctx)
	l.cancelCtx = cancel

	for _, dir := range []string{l.userRoot, l.repoRoot} {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logging.Debugf("[customagents] could not watch %s: %v", dir, err)
		}
	}

	go l.watchLoop(ctx)
	return nil
}

func (l *Loader) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
				continue
			}
			if err := l.LoadAll(); err != nil {
				logging.Errorf("[customagents] reload failed: %v", err)
				continue
			}
			if l.onChange != nil {
				l.onChange(l.List())
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.Errorf("[customagents] watch error: %v", err)
		}
	}
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func([]*CustomAgent)) {
	l.onChange = fn
}

// Stop tears down the watcher goroutine.
func (l *Loader) Stop() {
	if l.cancelCtx != nil {
		l.cancelCtx()
	}
	if l.watcher != nil {
		l.watcher.Close()
	}
}

// Get returns a loaded agent by name.
func (l *Loader) Get(name string) (*CustomAgent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.agents[name]
	return a, ok
}

// List returns every loaded agent, sorted by name for deterministic output.
func (l *Loader) List() []*CustomAgent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*CustomAgent, 0, len(l.agents))
	for _, a := range l.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Errors returns the load errors from the most recent LoadAll call.
func (l *Loader) Errors() []LoadError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LoadError, len(l.errors))
	copy(out, l.errors)
	return out
}

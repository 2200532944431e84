package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// BuildDir is the artifact directory, relative to the working directory
	// unless absolute.
	BuildDir string

	// CacheSize is the number of build directories kept in memory.
	CacheSize int

	// Watch drops a cached directory as soon as a file in it changes.
	Watch bool
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		BuildDir:  filepath.Join("build", "contracts"),
		CacheSize: 16,
	}
}

// Store loads and caches the contracts of build directories.
type Store struct {
	config StoreConfig
	log    log.Logger
	cache  *lru.Cache[string, []Contract]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStore creates a store. A nil logger logs to the root logger.
func NewStore(config StoreConfig, logger log.Logger) (*Store, error) {
	if config.BuildDir == "" {
		config.BuildDir = DefaultStoreConfig().BuildDir
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultStoreConfig().CacheSize
	}
	if logger == nil {
		logger = log.Root()
	}

	cache, err := lru.New[string, []Contract](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create artifact cache: %w", err)
	}

	s := &Store{
		config:  config,
		log:     logger.New("component", "artifacts"),
		cache:   cache,
		watched: make(map[string]bool),
		done:    make(chan struct{}),
	}

	if config.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("create artifact watcher: %w", err)
		}
		s.watcher = w
		s.wg.Add(1)
		go s.watchLoop()
	}

	return s, nil
}

// Dir returns the build directory used for workingDirectory.
func (s *Store) Dir(workingDirectory string) string {
	if filepath.IsAbs(s.config.BuildDir) {
		return filepath.Clean(s.config.BuildDir)
	}
	return filepath.Join(workingDirectory, s.config.BuildDir)
}

// Load returns the contracts of workingDirectory's build directory, sorted by
// name. Files that fail to parse are skipped with a warning.
func (s *Store) Load(workingDirectory string) ([]Contract, error) {
	dir, err := filepath.Abs(s.Dir(workingDirectory))
	if err != nil {
		return nil, fmt.Errorf("resolve build dir: %w", err)
	}

	if contracts, ok := s.cache.Get(dir); ok {
		return contracts, nil
	}

	contracts, err := s.readDir(dir)
	if err != nil {
		return nil, err
	}

	s.cache.Add(dir, contracts)
	s.watch(dir)
	return contracts, nil
}

// Invalidate drops the cached contracts of workingDirectory.
func (s *Store) Invalidate(workingDirectory string) {
	if dir, err := filepath.Abs(s.Dir(workingDirectory)); err == nil {
		s.cache.Remove(dir)
	}
}

// Cached reports how many build directories are cached.
func (s *Store) Cached() int {
	return s.cache.Len()
}

// Close stops the watcher, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *Store) readDir(dir string) ([]Contract, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoArtifacts, dir)
		}
		return nil, fmt.Errorf("read build dir: %w", err)
	}

	var contracts []Contract
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("Skipping unreadable artifact", "file", path, "err", err)
			continue
		}
		c, err := ParseArtifact(data)
		if err != nil {
			s.log.Warn("Skipping invalid artifact", "file", path, "err", err)
			continue
		}
		contracts = append(contracts, c)
	}

	if len(contracts) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoArtifacts, dir)
	}

	sort.Slice(contracts, func(i, j int) bool { return contracts[i].Name < contracts[j].Name })
	s.log.Debug("Loaded artifacts", "dir", dir, "count", len(contracts))
	return contracts, nil
}

func (s *Store) watch(dir string) {
	if s.watcher == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.watched[dir] {
		return
	}
	if err := s.watcher.Add(dir); err != nil {
		s.log.Warn("Cannot watch build dir", "dir", dir, "err", err)
		return
	}
	s.watched[dir] = true
}

func (s *Store) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
				!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			dir := filepath.Dir(ev.Name)
			if s.cache.Remove(dir) {
				s.log.Debug("Artifacts changed, cache dropped", "dir", dir, "file", ev.Name)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("Artifact watcher error", "err", err)
		}
	}
}

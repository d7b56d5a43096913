package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

var validProviderID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// FileSource resolves provider crawler configs from one JSON document
// per provider in a directory. Documents are re-read on every job so
// config edits apply without a restart.
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource over dir.
func NewFileSource(dir string) (*FileSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("provider config dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("provider config path %s is not a directory", dir)
	}
	return &FileSource{dir: dir}, nil
}

// ConfigForProvider loads and parses <dir>/<providerID>.json.
func (f *FileSource) ConfigForProvider(_ context.Context, providerID string) (crawler.Config, error) {
	if !validProviderID.MatchString(providerID) {
		return crawler.Config{}, fmt.Errorf("invalid provider id %q", providerID)
	}
	raw, err := os.ReadFile(filepath.Join(f.dir, providerID+".json"))
	if err != nil {
		return crawler.Config{}, fmt.Errorf("read provider config: %w", err)
	}
	cfg, err := crawler.ParseConfig(raw)
	if err != nil {
		return crawler.Config{}, fmt.Errorf("provider %s: %w", providerID, err)
	}
	return cfg, nil
}

// StaticSource serves fixed configs from memory. Used by tests and
// single-provider deployments.
type StaticSource struct {
	mu      sync.RWMutex
	configs map[string]crawler.Config
}

// NewStaticSource creates a StaticSource with the given configs.
func NewStaticSource(configs map[string]crawler.Config) *StaticSource {
	if configs == nil {
		configs = map[string]crawler.Config{}
	}
	return &StaticSource{configs: configs}
}

// Set registers or replaces one provider's config.
func (s *StaticSource) Set(providerID string, cfg crawler.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[providerID] = cfg
}

// ConfigForProvider returns the registered config.
func (s *StaticSource) ConfigForProvider(_ context.Context, providerID string) (crawler.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[providerID]
	if !ok {
		return crawler.Config{}, fmt.Errorf("no config for provider %q", providerID)
	}
	return cfg, nil
}

var (
	_ crawler.ConfigSource = (*FileSource)(nil)
	_ crawler.ConfigSource = (*StaticSource)(nil)
)

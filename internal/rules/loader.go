package rules

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"carewatch-backend/pkg/log"
)

type fileFormat struct {
	Rules []Definition `yaml:"rules"`
}

// LoadFile reads rule definitions from a YAML file.
func LoadFile(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", path, err)
	}
	return parsed.Rules, nil
}

// Watch reloads path on every write and calls onChange with the new definitions.
// A file that fails to parse is logged and the previous definitions stay active.
func Watch(ctx context.Context, path string, logger log.Logger, onChange func([]Definition)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	logger.Infof(ctx, "rules.Watch: watching %s", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			defs, err := LoadFile(path)
			if err != nil {
				logger.Errorf(ctx, "rules.Watch: reload failed, keeping previous rules: %v", err)
				continue
			}
			logger.Infof(ctx, "rules.Watch: reloaded %d definitions from %s", len(defs), path)
			onChange(defs)
			// editors that save atomically replace the inode
			_ = watcher.Add(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf(ctx, "rules.Watch: watcher error: %v", err)
		}
	}
}

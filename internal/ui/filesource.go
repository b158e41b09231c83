package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type candidateFile struct {
	Candidates []Candidate `yaml:"candidates"`
}

// FileSource reads candidates from a YAML file that another process keeps up to date.
type FileSource struct {
	Path string
}

func (f FileSource) Scan(_ context.Context) ([]Candidate, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading candidate file: %w", err)
	}
	var doc candidateFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing candidate file: %w", err)
	}
	return doc.Candidates, nil
}

// Watch calls trigger whenever the file is written, created or renamed into place.
func (f FileSource) Watch(ctx context.Context, trigger func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(f.Path)); err != nil {
		return err
	}
	name := filepath.Clean(f.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Str("op", "ui/watch").Err(err).Msg("Watcher error")
		}
	}
}

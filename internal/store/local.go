package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/transport"
	"github.com/tanq16/siphon/internal/utils"
)

// Root is a granted place to write finished media.
type Root interface {
	Handle() domain.RootHandle
	// Create opens a sink for itemID whose committed file is named after name.
	Create(ctx context.Context, itemID, name string) (transport.Sink, error)
	// Remove deletes a committed file.
	Remove(ctx context.Context, fileName string) error
}

// LocalRoot writes into a directory. Transfers land in a .part file under the
// temp directory named after the item id, so a restarted item resumes it.
type LocalRoot struct {
	handle domain.RootHandle
	dir    string
	mu     sync.Mutex
}

func NewLocalRoot(h domain.RootHandle) (*LocalRoot, error) {
	if h.Scheme != domain.RootLocal {
		return nil, fmt.Errorf("not a local root: %s", h)
	}
	if err := os.MkdirAll(filepath.Join(h.Location, utils.TempDirName), 0755); err != nil {
		return nil, domain.Fail(domain.ErrPermission, "store/local", err)
	}
	return &LocalRoot{handle: h, dir: h.Location}, nil
}

func (r *LocalRoot) Handle() domain.RootHandle {
	return r.handle
}

func (r *LocalRoot) partPath(itemID string) string {
	return filepath.Join(r.dir, utils.TempDirName, itemID+utils.PartSuffix)
}

func (r *LocalRoot) Create(ctx context.Context, itemID, name string) (transport.Sink, error) {
	part := r.partPath(itemID)
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, domain.Fail(domain.ErrPermission, "store/local", fmt.Errorf("error opening %s: %w", part, err))
	}
	return &fileSink{file: f, part: part, name: name, commit: r.commit}, nil
}

// commit moves a finished part file to a unique name under the root.
func (r *LocalRoot) commit(part, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	final := utils.RenewOutputPath(filepath.Join(r.dir, name))
	if err := os.Rename(part, final); err != nil {
		return "", fmt.Errorf("error moving %s into place: %w", part, err)
	}
	log.Debug().Str("op", "store/local").Msgf("Committed %s", final)
	return filepath.Base(final), nil
}

func (r *LocalRoot) Remove(ctx context.Context, fileName string) error {
	if fileName == "" {
		return nil
	}
	err := os.Remove(filepath.Join(r.dir, filepath.Base(fileName)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing %s: %w", fileName, err)
	}
	return nil
}

// Clean removes leftover part files of transfers that will never resume.
func (r *LocalRoot) Clean() (int, error) {
	return utils.CleanTemp(r.dir)
}

// fileSink appends to a part file and hands it to commit when done.
type fileSink struct {
	file   *os.File
	part   string
	name   string
	commit func(part, name string) (string, error)
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

func (s *fileSink) Offset() int64 {
	info, err := s.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *fileSink) Reset() error {
	if err := s.file.Truncate(0); err != nil {
		return err
	}
	_, err := s.file.Seek(0, 0)
	return err
}

func (s *fileSink) Commit() (string, error) {
	if err := s.file.Close(); err != nil {
		return "", err
	}
	return s.commit(s.part, s.name)
}

// Close releases the part file and keeps it for a later resume.
func (s *fileSink) Close() error {
	return s.file.Close()
}

func (s *fileSink) Abort() error {
	s.file.Close()
	if err := os.Remove(s.part); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SaveAsSink writes a single file to a path picked by the user when no root is available.
func SaveAsSink(path string) (transport.Sink, error) {
	dir := filepath.Dir(path)
	part := filepath.Join(dir, "."+filepath.Base(path)+utils.PartSuffix)
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, domain.Fail(domain.ErrPermission, "store/saveas", err)
	}
	var mu sync.Mutex
	commit := func(part, name string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		final := utils.RenewOutputPath(filepath.Join(dir, name))
		if err := os.Rename(part, final); err != nil {
			return "", err
		}
		return final, nil
	}
	return &fileSink{file: f, part: part, name: filepath.Base(path), commit: commit}, nil
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coursegen-core/server/internal/agent/model"
	errx "github.com/coursegen-core/server/internal/core/error"
	logx "github.com/coursegen-core/server/pkg/logger"
)

const (
	checkpointExt = ".json"
	backupExt     = ".bak"
)

// FileCheckpointStore keeps one JSON file per run in a directory. Writes go
// through a temp file and rename; the previous snapshot is kept as .bak.
type FileCheckpointStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

func (s *FileCheckpointStore) path(runID string) string {
	return filepath.Join(s.dir, runID+checkpointExt)
}

func (s *FileCheckpointStore) Save(ctx context.Context, state *model.PipelineState) error {
	if err := ValidateRunID(state.RunID); err != nil {
		return err
	}
	b, err := state.Serialize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// the live file is only ever replaced by a rename, so it never goes missing
	path := s.path(state.RunID)
	if prev, err := os.ReadFile(path); err == nil {
		if err := s.writeAtomic(state.RunID, path+backupExt, prev); err != nil {
			logx.Warn().Err(err).Str("path", path).Msg("failed to back up previous checkpoint")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		logx.Warn().Err(err).Str("path", path).Msg("failed to read previous checkpoint")
	}
	if err := s.writeAtomic(state.RunID, path, b); err != nil {
		return err
	}

	logx.Debug().
		Str("run_id", state.RunID).
		Str("status", string(state.Status)).
		Int("steps", len(state.Steps)).
		Msg("checkpoint saved")
	return nil
}

// renameFile is swapped in tests.
var renameFile = os.Rename

// writeAtomic writes b to a synced temp file in the store directory and
// renames it over target.
func (s *FileCheckpointStore) writeAtomic(runID, target string, b []byte) error {
	tmp, err := os.CreateTemp(s.dir, runID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := renameFile(tmpName, target); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) Load(ctx context.Context, runID string) (*model.PipelineState, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	b, err := os.ReadFile(s.path(runID))
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errx.CheckpointNotFound(runID)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return model.DeserializeState(b)
}

// LoadBackup returns the snapshot saved before the latest one.
func (s *FileCheckpointStore) LoadBackup(ctx context.Context, runID string) (*model.PipelineState, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(runID) + backupExt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errx.CheckpointNotFound(runID)
		}
		return nil, fmt.Errorf("read checkpoint backup: %w", err)
	}
	return model.DeserializeState(b)
}

func (s *FileCheckpointStore) Delete(ctx context.Context, runID string) error {
	if err := ValidateRunID(runID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range []string{s.path(runID), s.path(runID) + backupExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
	}
	return nil
}

func (s *FileCheckpointStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, checkpointExt))
	}
	sort.Strings(ids)
	return ids, nil
}

var _ model.CheckpointStore = (*FileCheckpointStore)(nil)

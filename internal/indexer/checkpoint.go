package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Mugen-Finance/token-lists/internal/storage"
)

// Checkpoint tracks the last block a factory was harvested up to, and the
// pair artifact that holds the pairs from those blocks.
type Checkpoint struct {
	Factory            string `json:"factory"`
	Artifact           string `json:"artifact"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// Covers reports whether the checkpoint was written for this factory and
// pair artifact.
func (cp Checkpoint) Covers(factory, artifact string) bool {
	return cp.Factory == factory && filepath.Clean(cp.Artifact) == filepath.Clean(artifact)
}

// CheckpointStore persists a checkpoint to disk. An empty path disables it.
type CheckpointStore struct {
	path string
}

func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// Enabled reports whether the store reads and writes anything.
func (c *CheckpointStore) Enabled() bool {
	return c != nil && c.path != ""
}

func (c *CheckpointStore) Load() (Checkpoint, bool, error) {
	if !c.Enabled() {
		return Checkpoint{}, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}

	return cp, true, nil
}

func (c *CheckpointStore) Save(factory, artifact string, lastProcessed uint64) error {
	if !c.Enabled() {
		return nil
	}

	cp := Checkpoint{
		Factory:            factory,
		Artifact:           artifact,
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := storage.WriteFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("%w: save checkpoint: %w", storage.ErrPersistence, err)
	}
	return nil
}

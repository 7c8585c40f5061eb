// Package dataset loads the QA benchmark file. The file is a JSON array
// of objects with id, question and ground_truth fields.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/storage/models"
	"github.com/agrirag/benchmark/pkg/logger"
)

// ErrDatasetInvalid is fatal: a run never starts over a dataset that
// fails validation.
var ErrDatasetInvalid = errors.New("invalid dataset")

type rawExample struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	GroundTruth string `json:"ground_truth"`
}

// Load reads and validates the dataset. sampleSize > 0 keeps only the
// first sampleSize examples, preserving file order.
func Load(path string, sampleSize int) ([]models.QARecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrDatasetInvalid, path, err)
	}

	var raw []rawExample
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON in %s: %v", ErrDatasetInvalid, path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s contains no examples", ErrDatasetInvalid, path)
	}

	seen := make(map[string]struct{}, len(raw))
	records := make([]models.QARecord, 0, len(raw))
	for i, ex := range raw {
		if strings.TrimSpace(ex.ID) == "" {
			return nil, fmt.Errorf("%w: example %d has no id", ErrDatasetInvalid, i)
		}
		if strings.TrimSpace(ex.Question) == "" {
			return nil, fmt.Errorf("%w: example %q has no question", ErrDatasetInvalid, ex.ID)
		}
		if strings.TrimSpace(ex.GroundTruth) == "" {
			return nil, fmt.Errorf("%w: example %q has no ground_truth", ErrDatasetInvalid, ex.ID)
		}
		if _, dup := seen[ex.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrDatasetInvalid, ex.ID)
		}
		seen[ex.ID] = struct{}{}

		records = append(records, models.QARecord{
			ID:              ex.ID,
			Question:        ex.Question,
			ReferenceAnswer: ex.GroundTruth,
		})
	}

	if sampleSize > 0 && sampleSize < len(records) {
		records = records[:sampleSize]
	}

	logger.Info("Dataset loaded",
		zap.String("path", path),
		zap.Int("examples", len(records)),
	)
	return records, nil
}

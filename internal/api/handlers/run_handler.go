package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/dataset"
	"github.com/agrirag/benchmark/internal/harness"
	"github.com/agrirag/benchmark/internal/kg/neo4j"
	"github.com/agrirag/benchmark/internal/storage/sqlite"
	"github.com/agrirag/benchmark/pkg/config"
	"github.com/agrirag/benchmark/pkg/logger"
)

type RunHandler struct {
	cfg     *config.Config
	harness *harness.Harness
	store   *sqlite.Client
	graph   *neo4j.Client

	mu     sync.Mutex
	active map[string]string
}

func NewRunHandler(cfg *config.Config, h *harness.Harness, store *sqlite.Client, graph *neo4j.Client) *RunHandler {
	return &RunHandler{
		cfg:     cfg,
		harness: h,
		store:   store,
		graph:   graph,
		active:  make(map[string]string),
	}
}

// StartRun validates the dataset, then launches the comparison in the
// background and returns the run id immediately. Progress is available
// over the run's websocket; the finished artifact through GetRun.
func (h *RunHandler) StartRun(c *fiber.Ctx) error {
	var req struct {
		DatasetPath string `json:"dataset_path"`
		SampleSize  int    `json:"sample_size"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	path := req.DatasetPath
	if path == "" {
		path = h.cfg.Harness.DatasetPath
	}
	sampleSize := req.SampleSize
	if sampleSize == 0 {
		sampleSize = h.cfg.Harness.SampleSize
	}

	records, err := dataset.Load(path, sampleSize)
	if err != nil {
		logger.Error("Dataset rejected", zap.String("path", path), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	runID := harness.NewRunID(h.cfg, time.Now())

	h.mu.Lock()
	h.active[runID] = "running"
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.active, runID)
			h.mu.Unlock()
		}()

		_, err := h.harness.RunWithID(context.Background(), runID, records)
		if err != nil {
			logger.Error("Background run failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id":       runID,
		"dataset_size": len(records),
	})
}

func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	runs, err := h.store.ListRuns(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	out := make([]fiber.Map, 0, len(runs))
	for _, run := range runs {
		out = append(out, fiber.Map{
			"run_id":       run.RunID,
			"status":       run.Status,
			"dataset_size": run.DatasetSize,
			"failures":     run.Failures,
			"started_at":   run.StartedAt,
			"finished_at":  run.FinishedAt,
		})
	}

	return c.JSON(fiber.Map{"runs": out})
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	runID := c.Params("id")

	h.mu.Lock()
	_, running := h.active[runID]
	h.mu.Unlock()
	if running {
		return c.JSON(fiber.Map{
			"run_id": runID,
			"status": "running",
		})
	}

	artifact, err := h.store.GetRun(c.Context(), runID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"run_id":           artifact.RunID,
		"status":           artifact.Status,
		"config":           artifact.ConfigJSON,
		"dataset_size":     artifact.DatasetSize,
		"failures":         artifact.Failures,
		"started_at":       artifact.StartedAt,
		"finished_at":      artifact.FinishedAt,
		"comparison":       artifact.Comparison,
		"mean_latency_sec": artifact.MeanLatencySec,
	})
}

// GetRunScores returns the per-example score rows of a run. Missing
// metric values come back as null.
func (h *RunHandler) GetRunScores(c *fiber.Ctx) error {
	runID := c.Params("id")

	artifact, err := h.store.GetRun(c.Context(), runID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	scores := make([]fiber.Map, 0, len(artifact.Scores))
	for _, s := range artifact.Scores {
		scores = append(scores, fiber.Map{
			"qa_id":   s.QAID,
			"variant": s.Variant,
			"metric":  s.Metric,
			"value":   s.Value,
		})
	}

	return c.JSON(fiber.Map{
		"run_id": runID,
		"scores": scores,
	})
}

// Reaggregate recomputes a run's comparison table from the persisted
// per-example scores.
func (h *RunHandler) Reaggregate(c *fiber.Ctx) error {
	runID := c.Params("id")

	comparison, err := h.store.Reaggregate(c.Context(), runID, harness.Aggregate)
	if err != nil {
		logger.Error("Reaggregation failed", zap.String("run_id", runID), zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"run_id":     runID,
		"comparison": comparison,
	})
}

func (h *RunHandler) GraphStats(c *fiber.Ctx) error {
	nodes, relations, err := h.graph.Stats(c.Context())
	if err != nil {
		logger.Error("Failed to fetch graph stats", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Knowledge graph unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"entities":  nodes,
		"relations": relations,
	})
}

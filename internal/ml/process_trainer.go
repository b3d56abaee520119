// Package ml bridges recommender engines to out-of-process model training.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/engine"
)

// TrainerConfig carries the command line of the external trainer and the
// hyper-parameters forwarded to it. The defaults follow the Neural CF layout:
// user and item embeddings concatenated into a stack of dense layers.
type TrainerConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	ModelPath string   `mapstructure:"model_path"`

	BatchSize         int     `mapstructure:"batch_size"`
	UserEmbeddingSize int     `mapstructure:"user_embedding_size"`
	ItemEmbeddingSize int     `mapstructure:"item_embedding_size"`
	DenseSizes        []int   `mapstructure:"dense_sizes"`
	Epochs            int     `mapstructure:"epochs"`
	LearningRate      float64 `mapstructure:"learning_rate"`
	Decay             float64 `mapstructure:"decay"`
	ValidationSize    float64 `mapstructure:"validation_size"`
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Command:           "python3",
		Args:              []string{"scripts/ncf_trainer.py"},
		ModelPath:         "models/ncf.keras",
		BatchSize:         64,
		UserEmbeddingSize: 64,
		ItemEmbeddingSize: 64,
		DenseSizes:        []int{32, 16, 8},
		Epochs:            100,
		LearningRate:      0.01,
		Decay:             1e-6,
		ValidationSize:    0.1,
	}
}

type hyperParameters struct {
	BatchSize         int     `json:"batch_size"`
	UserEmbeddingSize int     `json:"user_embedding_size"`
	ItemEmbeddingSize int     `json:"item_embedding_size"`
	DenseSizes        []int   `json:"dense_sizes"`
	Epochs            int     `json:"epochs"`
	LearningRate      float64 `json:"learning_rate"`
	Decay             float64 `json:"decay"`
	ValidationSize    float64 `json:"validation_size"`
}

// TrainerRequest is written as one JSON document to the trainer's stdin.
type TrainerRequest struct {
	Action    string           `json:"action"` // fit, predict
	ModelPath string           `json:"model_path"`
	Users     int              `json:"users,omitempty"`
	Items     int              `json:"items,omitempty"`
	Samples   []engine.Sample  `json:"samples,omitempty"`
	Pairs     []engine.Pair    `json:"pairs,omitempty"`
	Params    *hyperParameters `json:"params,omitempty"`
}

// TrainerResponse is read as one JSON document from the trainer's stdout.
type TrainerResponse struct {
	Predictions []float64 `json:"predictions,omitempty"`
	Loss        float64   `json:"loss,omitempty"`
	Error       string    `json:"error,omitempty"`
	Latency     float64   `json:"latency"`
}

// ProcessTrainer implements engine.Trainer by running an external command per
// call and exchanging JSON over stdin/stdout. The model itself is persisted by
// the command at ModelPath between fit and predict calls.
type ProcessTrainer struct {
	config TrainerConfig
	logger *logrus.Logger

	mutex   sync.Mutex
	fitted  bool
	runFunc func(ctx context.Context, input []byte) ([]byte, error)
}

func NewProcessTrainer(cfg TrainerConfig, logger *logrus.Logger) (*ProcessTrainer, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("%w: trainer command is empty", engine.ErrInvalidConfiguration)
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = DefaultTrainerConfig().ModelPath
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	pt := &ProcessTrainer{
		config: cfg,
		logger: logger,
	}
	pt.runFunc = pt.run
	return pt, nil
}

func (pt *ProcessTrainer) Fit(ctx context.Context, users, items int, samples []engine.Sample) error {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	req := TrainerRequest{
		Action:    "fit",
		ModelPath: pt.config.ModelPath,
		Users:     users,
		Items:     items,
		Samples:   samples,
		Params: &hyperParameters{
			BatchSize:         pt.config.BatchSize,
			UserEmbeddingSize: pt.config.UserEmbeddingSize,
			ItemEmbeddingSize: pt.config.ItemEmbeddingSize,
			DenseSizes:        pt.config.DenseSizes,
			Epochs:            pt.config.Epochs,
			LearningRate:      pt.config.LearningRate,
			Decay:             pt.config.Decay,
			ValidationSize:    pt.config.ValidationSize,
		},
	}

	resp, err := pt.call(ctx, req)
	if err != nil {
		return err
	}
	pt.fitted = true

	pt.logger.WithFields(logrus.Fields{
		"users":      users,
		"items":      items,
		"samples":    len(samples),
		"loss":       resp.Loss,
		"latency_ms": resp.Latency * 1000,
	}).Info("External trainer fitted model")

	return nil
}

func (pt *ProcessTrainer) Predict(ctx context.Context, pairs []engine.Pair) ([]float64, error) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	if !pt.fitted {
		return nil, fmt.Errorf("trainer has no fitted model")
	}

	resp, err := pt.call(ctx, TrainerRequest{
		Action:    "predict",
		ModelPath: pt.config.ModelPath,
		Pairs:     pairs,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(pairs) {
		return nil, fmt.Errorf("trainer returned %d predictions for %d pairs", len(resp.Predictions), len(pairs))
	}

	pt.logger.WithFields(logrus.Fields{
		"pairs":      len(pairs),
		"latency_ms": resp.Latency * 1000,
	}).Debug("External trainer predicted")

	return resp.Predictions, nil
}

func (pt *ProcessTrainer) call(ctx context.Context, req TrainerRequest) (*TrainerResponse, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trainer request: %w", err)
	}

	output, err := pt.runFunc(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("trainer %s failed: %w", req.Action, err)
	}

	var resp TrainerResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse trainer response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("trainer error: %s", resp.Error)
	}
	return &resp, nil
}

func (pt *ProcessTrainer) run(ctx context.Context, input []byte) ([]byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, pt.config.Command, pt.config.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}

	pt.logger.WithFields(logrus.Fields{
		"command": pt.config.Command,
		"elapsed": time.Since(start),
	}).Debug("Trainer process finished")

	return output, nil
}

package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"homehub/internal/automation"
)

// Worker processes queued evaluations with the automation engine.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	engine automation.Evaluator
	logger *logrus.Entry
}

// NewWorker creates a worker consuming from the Redis at redisAddr.
func NewWorker(redisAddr string, concurrency int, engine automation.Evaluator, logger *logrus.Entry) *Worker {
	w := &Worker{
		engine: engine,
		logger: logger,
		mux:    asynq.NewServeMux(),
	}
	w.server = asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Logger:      logger,
	})
	w.mux.HandleFunc(TypeEvaluate, w.HandleEvaluate)
	return w
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	w.logger.Info("starting automation workers")
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("taskqueue: start workers: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight tasks and stops the server.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("automation workers stopped")
}

// HandleEvaluate runs one evaluation task. Malformed payloads are not retried.
func (w *Worker) HandleEvaluate(ctx context.Context, t *asynq.Task) error {
	var p EvaluationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("taskqueue: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.DeviceID == "" {
		return fmt.Errorf("taskqueue: payload without device_id: %w", asynq.SkipRetry)
	}

	if p.Event != "" {
		w.engine.EvaluateEvent(ctx, p.DeviceID, p.Event)
		return nil
	}
	w.engine.Evaluate(ctx, p.DeviceID, p.State)
	return nil
}

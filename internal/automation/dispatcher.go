package automation

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"homehub/internal/models"
)

// Evaluator is implemented by Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, deviceID string, updated models.State)
	EvaluateEvent(ctx context.Context, deviceID, event string)
}

// AsyncDispatcher runs each evaluation on its own goroutine, detached from
// the caller's context and error path.
type AsyncDispatcher struct {
	engine Evaluator
	logger *logrus.Entry
	wg     sync.WaitGroup
}

func NewAsyncDispatcher(engine Evaluator, logger *logrus.Entry) *AsyncDispatcher {
	return &AsyncDispatcher{engine: engine, logger: logger}
}

// Dispatch schedules a state evaluation and returns immediately.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, deviceID string, updated models.State) {
	d.spawn(ctx, deviceID, func(ctx context.Context) {
		d.engine.Evaluate(ctx, deviceID, updated)
	})
}

// DispatchEvent schedules an event evaluation and returns immediately.
func (d *AsyncDispatcher) DispatchEvent(ctx context.Context, deviceID, event string) {
	d.spawn(ctx, deviceID, func(ctx context.Context) {
		d.engine.EvaluateEvent(ctx, deviceID, event)
	})
}

// Wait blocks until all dispatched evaluations finished.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

func (d *AsyncDispatcher) spawn(ctx context.Context, deviceID string, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.WithFields(logrus.Fields{"device_id": deviceID, "panic": r}).Error("automation dispatch panicked")
			}
		}()
		fn(ctx)
	}()
}

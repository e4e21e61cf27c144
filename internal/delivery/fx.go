package delivery

import (
	"context"

	"github.com/smallbiznis/newsletter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("delivery.worker",
	fx.Provide(ProvideQueue),
	fx.Provide(New),
	fx.Invoke(StartWorker),
)

// StartWorker runs the loop in the background for the app lifetime, or in
// drain mode empties the queue once and shuts the app down.
func StartWorker(lc fx.Lifecycle, cfg config.Config, w *Worker, shutdowner fx.Shutdowner, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if cfg.WorkerMode == config.WorkerModeDrain {
					n, err := w.DrainQueue(ctx)
					if err != nil {
						log.Error("delivery drain stopped", zap.Int("completed", n), zap.Error(err))
					} else {
						log.Info("delivery queue drained", zap.Int("completed", n))
					}
					_ = shutdowner.Shutdown()
					return
				}
				w.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"

	logx "github.com/coursegen-core/server/pkg/logger"
)

type startKey struct{ name string }

// newNodeHandler times the assemble, complete and extract nodes of a step.
func newNodeHandler() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			return context.WithValue(ctx, startKey{info.Name}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			l := logx.With("step")
			ev := l.Debug().Str("node", info.Name)
			if start, ok := ctx.Value(startKey{info.Name}).(time.Time); ok {
				ev = ev.Dur("elapsed", time.Since(start))
			}
			ev.Msg("node done")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			l := logx.With("step")
			l.Debug().Err(err).Str("node", info.Name).Msg("node error")
			return ctx
		}).
		Build()
}

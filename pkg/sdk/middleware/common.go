package middleware

import (
	"context"

	"github.com/rs/zerolog"
)

// Hooks adapts plain funcs into a Middleware. Nil funcs are skipped.
type Hooks struct {
	ID     string
	Before func(ctx context.Context, call Call, args any) (any, error)
	After  func(ctx context.Context, call Call, result, args any) (any, error)
	Error  func(ctx context.Context, call Call, err error, args any)
}

func (h Hooks) Name() string { return h.ID }

func (h Hooks) BeforeCall(ctx context.Context, call Call, args any) (any, error) {
	if h.Before == nil {
		return nil, nil
	}
	return h.Before(ctx, call, args)
}

func (h Hooks) AfterCall(ctx context.Context, call Call, result, args any) (any, error) {
	if h.After == nil {
		return nil, nil
	}
	return h.After(ctx, call, result, args)
}

func (h Hooks) OnError(ctx context.Context, call Call, err error, args any) {
	if h.Error != nil {
		h.Error(ctx, call, err, args)
	}
}

// logging writes one debug line per call phase
type logging struct {
	log zerolog.Logger
}

// Logging returns middleware that logs every monitored call
func Logging(log zerolog.Logger) Middleware {
	return logging{log: log.With().Str("component", "middleware").Logger()}
}

func (logging) Name() string { return "logging" }

func (l logging) BeforeCall(ctx context.Context, call Call, args any) (any, error) {
	l.log.Debug().Str("function", call.Name).Str("call_id", call.ID).Msg("call started")
	return nil, nil
}

func (l logging) AfterCall(ctx context.Context, call Call, result, args any) (any, error) {
	l.log.Debug().Str("function", call.Name).Str("call_id", call.ID).Msg("call finished")
	return nil, nil
}

func (l logging) OnError(ctx context.Context, call Call, err error, args any) {
	l.log.Debug().Err(err).Str("function", call.Name).Str("call_id", call.ID).Msg("call failed")
}

// Transform returns middleware that rewrites arguments and results with
// plain funcs. Either func may be nil.
func Transform(name string, args func(any) any, result func(any) any) Middleware {
	h := Hooks{ID: name}
	if args != nil {
		h.Before = func(_ context.Context, _ Call, a any) (any, error) {
			return args(a), nil
		}
	}
	if result != nil {
		h.After = func(_ context.Context, _ Call, r, _ any) (any, error) {
			return result(r), nil
		}
	}
	return h
}

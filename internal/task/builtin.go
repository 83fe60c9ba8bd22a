package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Builtin callback names
const (
	BuiltinLog   = "log"
	BuiltinSleep = "sleep"
)

// RegisterBuiltins adds the maintenance callbacks every host provides:
// "log" writes its parameters to logger and "sleep" waits for params[0] seconds.
func RegisterBuiltins(r *Registry, logger *slog.Logger) {
	log := logger.With("component", "builtin_task")

	r.RegisterFunc(BuiltinLog, func(ctx context.Context, params Params) error {
		log.InfoContext(ctx, "log task", "message", Synopsis(BuiltinLog, params))
		return nil
	})

	r.RegisterFunc(BuiltinSleep, func(ctx context.Context, params Params) error {
		if len(params) == 0 {
			return fmt.Errorf("sleep needs a duration in seconds")
		}
		seconds, err := toFloat(params[0])
		if err != nil {
			return fmt.Errorf("sleep duration: %w", err)
		}
		timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}

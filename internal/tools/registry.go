package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Registry is the fixed capability table. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	tools  []Tool
	byName map[string]Tool
}

// NewRegistry builds a registry in the given order. Duplicate names panic.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Declaration().Name
		if _, dup := r.byName[name]; dup {
			panic(fmt.Sprintf("tools: duplicate tool %q", name))
		}
		r.tools = append(r.tools, t)
		r.byName[name] = t
	}
	return r
}

// Deps are the collaborators of the built-in tools.
type Deps struct {
	Location *time.Location
	Weather  WeatherProvider
	History  HistoryReader
}

// NewDefaultRegistry returns getCurrentTime, getWeather and getChatHistory.
func NewDefaultRegistry(deps Deps) *Registry {
	return NewRegistry(
		NewClock(deps.Location),
		NewWeather(deps.Weather),
		NewHistory(deps.History),
	)
}

// Declarations lists every tool in registration order.
func (r *Registry) Declarations() []Declaration {
	decls := make([]Declaration, len(r.tools))
	for i, t := range r.tools {
		decls[i] = t.Declaration()
	}
	return decls
}

func (r *Registry) Resolve(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Dispatcher runs model-issued calls against a registry.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

func NewDispatcher(r *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: r, logger: logger}
}

// Dispatch never fails: unknown names and panicking handlers come back as
// error results.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, sc SessionContext) (res Result) {
	t, ok := d.registry.Resolve(call.Name)
	if !ok {
		d.logger.Warn("model requested unknown tool", "tool", call.Name, "session_id", sc.SessionID)
		return Errorf("unknown tool: %s", call.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("tool panicked", "tool", call.Name, "panic", p)
			res = Errorf("tool %s failed", call.Name)
		}
	}()

	start := time.Now()
	res = t.Call(ctx, call.Arguments, sc)
	d.logger.Debug("tool dispatched",
		"tool", call.Name,
		"session_id", sc.SessionID,
		"error", res.Err(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

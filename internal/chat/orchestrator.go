// Package chat runs a conversation turn: one model round, an optional tool
// dispatch followed by a second round, then best-effort persistence.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatd/internal/llm"
	"github.com/kalambet/chatd/internal/storage"
	"github.com/kalambet/chatd/internal/tools"
)

var (
	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("message is required")
	// ErrProcessing wraps every model provider failure.
	ErrProcessing = errors.New("failed to process message")
)

const defaultPersistTimeout = 5 * time.Second

// Model is one round trip to the language model.
type Model interface {
	Generate(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Store persists finished turns and usage counters.
type Store interface {
	AppendTurn(ctx context.Context, t storage.Turn) error
	IncrementCounter(ctx context.Context, day, eventType string, sample map[string]string) error
}

type Input struct {
	SessionID string
	Message   string
	Origin    storage.Origin
}

type Output struct {
	SessionID string
	Response  string
	// ToolUsed is the name of the serviced tool, empty on the plain path.
	ToolUsed string
}

type Config struct {
	Model    Model
	Registry *tools.Registry
	Store    Store
	BotName  string
	Logger   *slog.Logger
	// PersistTimeout bounds the writes after the answer is known. Default 5s.
	PersistTimeout time.Duration
}

// Orchestrator holds no per-request state and is safe for concurrent use.
// Requests for the same session are not serialized against each other.
type Orchestrator struct {
	model          Model
	registry       *tools.Registry
	dispatcher     *tools.Dispatcher
	store          Store
	system         string
	logger         *slog.Logger
	persistTimeout time.Duration
	now            func() time.Time
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	return &Orchestrator{
		model:          cfg.Model,
		registry:       cfg.Registry,
		dispatcher:     tools.NewDispatcher(cfg.Registry, logger),
		store:          cfg.Store,
		system:         systemPrompt(cfg.BotName),
		logger:         logger,
		persistTimeout: timeout,
		now:            time.Now,
	}
}

// HandleMessage answers one user message. At most one tool call is serviced
// and there is never a third model round.
func (o *Orchestrator) HandleMessage(ctx context.Context, in Input) (Output, error) {
	if strings.TrimSpace(in.Message) == "" {
		return Output{}, ErrEmptyMessage
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	decls := o.registry.Declarations()
	req := llm.Request{
		System: o.system,
		Prompt: in.Message,
		Tools:  decls,
	}

	resp, err := o.model.Generate(ctx, req)
	if err != nil {
		return Output{}, fmt.Errorf("%w: first round: %w", ErrProcessing, err)
	}

	out := Output{SessionID: sessionID, Response: resp.Text}

	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		if len(resp.ToolCalls) > 1 {
			o.logger.Debug("ignoring extra tool calls",
				"session_id", sessionID,
				"serviced", call.Name,
				"ignored", len(resp.ToolCalls)-1,
			)
		}

		result := o.dispatcher.Dispatch(ctx,
			tools.Call{Name: call.Name, Arguments: call.Arguments},
			tools.SessionContext{SessionID: sessionID},
		)
		payload, err := json.Marshal(result)
		if err != nil {
			return Output{}, fmt.Errorf("%w: encoding %s result: %w", ErrProcessing, call.Name, err)
		}

		req.Tool = &llm.ToolRound{Call: call, Result: payload}
		final, err := o.model.Generate(ctx, req)
		if err != nil {
			return Output{}, fmt.Errorf("%w: second round: %w", ErrProcessing, err)
		}
		if len(final.ToolCalls) > 0 {
			o.logger.Debug("ignoring tool calls in second round",
				"session_id", sessionID,
				"count", len(final.ToolCalls),
			)
		}

		out.Response = final.Text
		out.ToolUsed = call.Name
	}

	o.persist(ctx, in, out)
	return out, nil
}

// persist records the turn and bumps the day's counter. Failures are logged
// and dropped; the caller already has its answer.
func (o *Orchestrator) persist(ctx context.Context, in Input, out Output) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()

	now := o.now().UTC()
	turn := storage.Turn{
		ID:          uuid.New().String(),
		SessionID:   out.SessionID,
		UserMessage: in.Message,
		BotResponse: out.Response,
		Timestamp:   now,
		Origin:      in.Origin.WithDefaults(),
	}
	if err := o.store.AppendTurn(ctx, turn); err != nil {
		o.logger.Warn("failed to save conversation", "session_id", out.SessionID, "error", err)
	}

	event, sample := storage.EventMessage, map[string]string(nil)
	if out.ToolUsed != "" {
		event = storage.EventFunctionCall
		sample = map[string]string{"functionName": out.ToolUsed}
	}
	if err := o.store.IncrementCounter(ctx, now.Format(storage.DayLayout), event, sample); err != nil {
		o.logger.Warn("failed to update analytics", "type", event, "error", err)
	}
}

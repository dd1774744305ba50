package tool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/clinicore/actiongate/internal/domain/tool"

type registration struct {
	def     Definition
	handler Handler
	schema  *gojsonschema.Schema
}

// Registry is the catalog of registered tools and the allowlist gating them.
// Registration happens at process start; afterwards the catalog is read-only
// and only allowlist membership changes. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*registration
	allowlist map[string]bool

	logger *slog.Logger
	tracer trace.Tracer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracerProvider sets the provider used for tool.execute spans.
func WithTracerProvider(tp trace.TracerProvider) RegistryOption {
	return func(r *Registry) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:     make(map[string]*registration),
		allowlist: make(map[string]bool),
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool to the catalog, computes its schema hash and sets its
// allowlist membership. Registering an id twice is an error.
func (r *Registry) Register(def Definition, handler Handler, allowed bool) error {
	if handler == nil {
		return fmt.Errorf("tool %q: handler is required", def.ID)
	}
	if err := validateDefinition(def); err != nil {
		return err
	}

	def = def.Clone()
	def.SchemaHash = ComputeSchemaHash(def)

	schema, err := compileSchema(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.tools[def.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("tool %q is already registered", def.ID)
	}
	r.tools[def.ID] = &registration{def: def, handler: handler, schema: schema}
	r.allowlist[def.ID] = allowed
	r.mu.Unlock()

	if inferred, understated := Understated(def); understated {
		r.logger.Warn("tool risk level lower than its name suggests",
			"tool", def.ID,
			"declared", def.RiskLevel,
			"inferred", inferred,
		)
	}
	r.logger.Debug("tool registered",
		"tool", def.ID,
		"version", def.SchemaVersion,
		"schema_hash", def.SchemaHash,
		"allowed", allowed,
	)
	return nil
}

// SetAllowed adds or removes a tool id from the allowlist. The id does not
// need to be registered.
func (r *Registry) SetAllowed(toolID string, allowed bool) {
	r.mu.Lock()
	r.allowlist[toolID] = allowed
	r.mu.Unlock()

	r.logger.Info("tool allowlist changed", "tool", toolID, "allowed", allowed)
}

// IsAllowed reports whether the tool id is currently allowlisted.
func (r *Registry) IsAllowed(toolID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allowlist[toolID]
}

// Get returns a copy of the registered definition.
func (r *Registry) Get(toolID string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[toolID]
	if !ok {
		return Definition{}, false
	}
	return reg.def.Clone(), true
}

// List returns copies of all registered definitions sorted by id.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		defs = append(defs, reg.def.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// ExecuteTool validates and dispatches one call.
//
// It returns an error only for control-plane failures, checked in this order:
// *NotAllowedError, *NotFoundError, *SchemaDriftError (when
// expectedSchemaVersion is non-empty and differs), *ValidationError.
// Handler failures, including panics, come back as a result with
// Success=false and a nil error.
func (r *Registry) ExecuteTool(ctx context.Context, toolID string, params map[string]any, mode Mode, expectedSchemaVersion string) (*ExecutionResult, error) {
	ctx, span := r.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.id", toolID),
		attribute.String("tool.mode", string(mode)),
	))
	defer span.End()

	res, err := r.executeTool(ctx, toolID, params, mode, expectedSchemaVersion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("tool.success", res.Success),
		attribute.Int64("tool.execution_time_ms", res.ExecutionTimeMs),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	return res, nil
}

func (r *Registry) executeTool(ctx context.Context, toolID string, params map[string]any, mode Mode, expectedSchemaVersion string) (*ExecutionResult, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("tool %q: invalid mode %q", toolID, mode)
	}

	r.mu.RLock()
	allowed := r.allowlist[toolID]
	reg := r.tools[toolID]
	r.mu.RUnlock()

	if !allowed {
		return nil, &NotAllowedError{ToolID: toolID}
	}
	if reg == nil {
		return nil, &NotFoundError{ToolID: toolID}
	}
	if expectedSchemaVersion != "" && expectedSchemaVersion != reg.def.SchemaVersion {
		return nil, &SchemaDriftError{
			ToolID:   toolID,
			Expected: expectedSchemaVersion,
			Actual:   reg.def.SchemaVersion,
		}
	}
	if err := validateParams(reg.schema, toolID, params); err != nil {
		return nil, err
	}

	params = applyDefaults(reg.def, params)

	start := time.Now()
	res := r.invoke(ctx, reg, params, mode)
	res.Mode = mode
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	return res, nil
}

// invoke calls the handler and converts errors, nil results and panics into
// failed results.
func (r *Registry) invoke(ctx context.Context, reg *registration, params map[string]any, mode Mode) (res *ExecutionResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked",
				"tool", reg.def.ID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			res = &ExecutionResult{Success: false, Error: fmt.Sprintf("handler panic: %v", p)}
		}
	}()

	out, err := reg.handler.Handle(ctx, params, mode)
	if err != nil {
		return &ExecutionResult{Success: false, Error: err.Error()}
	}
	if out == nil {
		return &ExecutionResult{Success: false, Error: "handler returned no result"}
	}
	cp := *out
	return &cp
}

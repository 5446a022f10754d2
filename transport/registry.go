package transport

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/thomasrutger/Connector/core"
)

type DispatcherFactory func(config map[string]any) (core.Dispatcher, error)

// Registry routes outbound messages to the dispatcher bound to the protocol
// version the process was negotiated under.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[string]core.Dispatcher
	factories   map[string]DispatcherFactory
	fallback    string
}

func NewRegistry() *Registry {
	return &Registry{
		dispatchers: map[string]core.Dispatcher{},
		factories:   map[string]DispatcherFactory{},
	}
}

// NewDefaultRegistry binds the HTTP dispatcher to every given protocol
// version. The first version is used for messages that carry none.
func NewDefaultRegistry(dispatcher core.Dispatcher, protocols ...string) *Registry {
	registry := NewRegistry()
	if dispatcher == nil {
		dispatcher = NewHTTPDispatcher(nil, nil)
	}
	if len(protocols) == 0 {
		protocols = []string{core.DefaultProtocolVersion}
	}
	for _, protocol := range protocols {
		_ = registry.Register(protocol, dispatcher)
	}
	registry.fallback = normalizeProtocol(protocols[0])
	return registry
}

func (r *Registry) Register(protocol string, dispatcher core.Dispatcher) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if dispatcher == nil {
		return fmt.Errorf("transport: dispatcher is nil")
	}
	protocol = normalizeProtocol(protocol)
	if protocol == "" {
		return fmt.Errorf("transport: protocol version is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.dispatchers[protocol]; exists {
		return fmt.Errorf("transport: protocol %q already registered", protocol)
	}
	r.dispatchers[protocol] = dispatcher
	if r.fallback == "" {
		r.fallback = protocol
	}
	return nil
}

func (r *Registry) RegisterFactory(protocol string, factory DispatcherFactory) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	protocol = normalizeProtocol(protocol)
	if protocol == "" {
		return fmt.Errorf("transport: protocol version is required")
	}
	if factory == nil {
		return fmt.Errorf("transport: dispatcher factory is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[protocol]; exists {
		return fmt.Errorf("transport: dispatcher factory %q already registered", protocol)
	}
	r.factories[protocol] = factory
	return nil
}

// Build resolves the dispatcher for protocol, building and caching it from
// a factory when none is registered yet.
func (r *Registry) Build(protocol string, config map[string]any) (core.Dispatcher, error) {
	if r == nil {
		return nil, fmt.Errorf("transport: registry is nil")
	}
	protocol = normalizeProtocol(protocol)
	if protocol == "" {
		return nil, fmt.Errorf("transport: protocol version is required")
	}

	r.mu.RLock()
	dispatcher, ok := r.dispatchers[protocol]
	factory := r.factories[protocol]
	r.mu.RUnlock()
	if ok {
		return dispatcher, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("transport: protocol %q not registered", protocol)
	}
	built, err := factory(cloneMap(config))
	if err != nil {
		return nil, err
	}
	if built == nil {
		return nil, fmt.Errorf("transport: factory for %q returned nil dispatcher", protocol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, exists := r.dispatchers[protocol]; exists {
		return existing, nil
	}
	r.dispatchers[protocol] = built
	return built, nil
}

func (r *Registry) Get(protocol string) (core.Dispatcher, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	dispatcher, ok := r.dispatchers[normalizeProtocol(protocol)]
	return dispatcher, ok
}

func (r *Registry) Protocols() []string {
	if r == nil {
		return []string{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	protocols := make([]string, 0, len(r.dispatchers))
	for protocol := range r.dispatchers {
		protocols = append(protocols, protocol)
	}
	sort.Strings(protocols)
	return protocols
}

// Send implements core.Dispatcher by routing on msg.Protocol.
func (r *Registry) Send(ctx context.Context, endpoint string, msg core.ProtocolMessage) core.DispatchResult {
	protocol := normalizeProtocol(msg.Protocol)
	if protocol == "" && r != nil {
		r.mu.RLock()
		protocol = r.fallback
		r.mu.RUnlock()
	}
	dispatcher, err := r.Build(protocol, nil)
	if err != nil {
		return permanent(0, transportWrapError(
			err,
			goerrors.CategoryOperation,
			"transport: no dispatcher for protocol version",
			http.StatusBadGateway,
			map[string]any{"protocol": protocol},
		))
	}
	return dispatcher.Send(ctx, endpoint, msg)
}

func normalizeProtocol(protocol string) string {
	return strings.TrimSpace(strings.ToLower(protocol))
}

func cloneMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

var _ core.Dispatcher = (*Registry)(nil)

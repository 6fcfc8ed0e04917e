package datasource

import (
	"context"
	"sort"
	"sync"

	"github.com/creditkit/decisionflow/pkg/schema"
)

// Client fetches a payload from a named external source type: credit
// bureau, income verification, fraud detection, KYC, or a generic
// database/api/file source.
type Client interface {
	SourceType() string
	Fetch(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Registry is a thread-safe set of data source clients keyed by source type.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
	}
}

// Register adds a client to the registry. Returns error on duplicate type.
func (r *Registry) Register(client Client) error {
	if client == nil {
		return schema.NewError(schema.ErrCodeValidation, "data source client is nil")
	}
	sourceType := client.SourceType()
	if sourceType == "" {
		return schema.NewError(schema.ErrCodeValidation, "data source type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[sourceType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "data source %q already registered", sourceType)
	}

	r.clients[sourceType] = client
	return nil
}

// Get retrieves a client by source type.
func (r *Registry) Get(sourceType string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[sourceType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "data source %q not registered", sourceType)
	}
	return client, nil
}

// Types returns the registered source types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.clients))
	for t := range r.clients {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

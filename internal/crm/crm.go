// Package crm defines the CRM collaborator used by create_* actions and the
// diagnostics endpoint.
package crm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
)

// Record identifies an object created in a CRM.
type Record struct {
	ID  string                 `json:"id"`
	URL string                 `json:"url,omitempty"`
	Raw map[string]interface{} `json:"raw,omitempty"`
}

// Pipeline is a sales pipeline as reported by the provider.
type Pipeline struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a CRM user that tasks and deals can be assigned to.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// CRM is a single provider integration.
type CRM interface {
	CreateLead(ctx context.Context, fields map[string]interface{}) (Record, error)
	CreateDeal(ctx context.Context, fields map[string]interface{}) (Record, error)
	CreateContact(ctx context.Context, fields map[string]interface{}) (Record, error)
	CreateTask(ctx context.Context, fields map[string]interface{}) (Record, error)
	GetPipelines(ctx context.Context) ([]Pipeline, error)
	GetUsers(ctx context.Context) ([]User, error)
}

// Registry resolves a CRM by provider name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]CRM
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]CRM)}
}

// NewRegistryFromConfig registers a REST adapter for every configured provider.
func NewRegistryFromConfig(cfg config.CRMConfig) *Registry {
	r := NewRegistry()
	for name, p := range cfg.Providers {
		if p.BaseURL == "" {
			continue
		}
		r.Register(name, NewRESTClient(name, p.BaseURL, p.Token, cfg.Timeout))
	}
	return r
}

// Register adds or replaces a provider. Names are case-insensitive.
func (r *Registry) Register(name string, c CRM) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(name)] = c
}

// Get returns the provider or ErrNotFound.
func (r *Registry) Get(name string) (CRM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: crm provider %q is not configured", apperrors.ErrNotFound, name)
	}
	return c, nil
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

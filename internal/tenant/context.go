// Package tenant carries the company and request identifiers through a context.
package tenant

import (
	"context"
	"errors"
	"fmt"
)

type contextKey int

const (
	companyIDKey contextKey = iota
	requestIDKey
)

var (
	ErrCompanyIDNotFound = errors.New("company ID not found in context")
	ErrRequestIDNotFound = errors.New("request ID not found in context")
)

func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyIDKey, companyID)
}

// FromContext returns the company id, or ErrCompanyIDNotFound when unset or empty.
func FromContext(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(companyIDKey).(string); ok && id != "" {
		return id, nil
	}
	return "", ErrCompanyIDNotFound
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id, nil
	}
	return "", ErrRequestIDNotFound
}

// ValidateCompany rejects a payload whose company differs from the context
// tenant. An empty companyID passes.
func ValidateCompany(ctx context.Context, companyID string) error {
	if companyID == "" {
		return nil
	}
	tenantID, err := FromContext(ctx)
	if err != nil {
		return err
	}
	if companyID != tenantID {
		return fmt.Errorf("company %q does not match tenant %q", companyID, tenantID)
	}
	return nil
}

// Package aop finds the ahead-of-print identifier a document was published
// under before it was assigned to an issue.
package aop

import (
	"context"

	"github.com/scieloorg/pidmanager/internal/pid"
)

// Resolver looks up the previous short id of a document. It returns "" when
// the document was never published ahead of print.
type Resolver interface {
	PreviousID(ctx context.Context, ids pid.DocumentIdentifiers) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ids pid.DocumentIdentifiers) (string, error)

// PreviousID calls f.
func (f ResolverFunc) PreviousID(ctx context.Context, ids pid.DocumentIdentifiers) (string, error) {
	return f(ctx, ids)
}

// Chain asks each resolver in turn and returns the first non-empty answer.
// An error stops the chain.
type Chain []Resolver

// PreviousID implements Resolver.
func (c Chain) PreviousID(ctx context.Context, ids pid.DocumentIdentifiers) (string, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		prev, err := r.PreviousID(ctx, ids)
		if err != nil {
			return "", err
		}
		if prev != "" {
			return prev, nil
		}
	}
	return "", nil
}

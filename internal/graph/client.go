// Package graph mirrors the peer trust network into a property graph so analysts can traverse
// customer relationships and group membership with Cypher.
package graph

import (
	"context"
	"errors"
)

// Client is the minimal contract the projection needs from a graph database.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Result is a simplified query response.
type Result struct {
	Records []Record
}

// Record holds the named values of one returned row.
type Record map[string]any

// Options configures a Bolt client.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// ErrMissingURI is returned when no graph URI is configured.
var ErrMissingURI = errors.New("graph URI is required")

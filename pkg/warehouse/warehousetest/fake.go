// Package warehousetest provides a scripted in-memory warehouse client for tests.
package warehousetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/davidthor/clonectl/pkg/warehouse"
)

// Response is one scripted reply.
type Response struct {
	Result *warehouse.Result
	Err    error

	// Delay blocks the call until it elapses or the context is done.
	Delay time.Duration
}

// Client replays scripted responses. Statements are matched by the first
// registered rule (case-insensitive prefix, or substring for When); each match
// consumes the next queued response and the last response repeats.
type Client struct {
	mu       sync.Mutex
	rules    []*rule
	executed []warehouse.Statement
}

type rule struct {
	prefix    string
	contains  bool
	responses []Response
	calls     int
}

// New creates an empty client. Unmatched statements succeed with an empty result.
func New() *Client {
	return &Client{}
}

// On registers responses for statements starting with prefix.
func (c *Client) On(prefix string, responses ...Response) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, &rule{prefix: strings.ToUpper(prefix), responses: responses})
	return c
}

// When registers responses for statements containing substr anywhere.
func (c *Client) When(substr string, responses ...Response) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, &rule{prefix: strings.ToUpper(substr), contains: true, responses: responses})
	return c
}

// Fail registers a single failure for statements starting with prefix.
func (c *Client) Fail(prefix string, kind warehouse.FailureKind, message string) *Client {
	return c.On(prefix, Response{Err: warehouse.NewFailure(kind, message, nil)})
}

// Rows registers a row set for statements starting with prefix.
func (c *Client) Rows(prefix string, columns []string, rows ...[]interface{}) *Client {
	return c.On(prefix, Response{Result: &warehouse.Result{Columns: columns, Rows: rows, RowsAffected: -1}})
}

// Execute implements warehouse.Client.
func (c *Client) Execute(ctx context.Context, stmt warehouse.Statement) (*warehouse.Result, error) {
	c.mu.Lock()
	c.executed = append(c.executed, stmt)
	resp := c.next(stmt.SQL)
	c.mu.Unlock()

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, warehouse.NewFailure(warehouse.FailureTransient, "statement timed out", ctx.Err())
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Result != nil {
		return resp.Result, nil
	}
	return &warehouse.Result{}, nil
}

func (c *Client) next(sql string) Response {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, r := range c.rules {
		matched := strings.HasPrefix(upper, r.prefix)
		if r.contains {
			matched = strings.Contains(upper, r.prefix)
		}
		if !matched || len(r.responses) == 0 {
			continue
		}
		i := r.calls
		if i >= len(r.responses) {
			i = len(r.responses) - 1
		}
		r.calls++
		return r.responses[i]
	}
	return Response{}
}

// Executed returns the SQL of every statement received, in order.
func (c *Client) Executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.executed))
	for i, s := range c.executed {
		out[i] = s.SQL
	}
	return out
}

// Writes returns the SQL of every statement not marked read-only.
func (c *Client) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.executed {
		if !s.ReadOnly {
			out = append(out, s.SQL)
		}
	}
	return out
}

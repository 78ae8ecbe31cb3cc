package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/fujin-io/evstore/internal/core/operations"
	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/types"
	"go.opentelemetry.io/otel/attribute"
)

// Transaction groups writes to one stream that become visible on Commit.
// Rollback only abandons the handle; the server expires the transaction.
type Transaction struct {
	c     *Client
	id    int64
	creds *types.UserCredentials

	mu     sync.Mutex
	closed bool
}

func (c *Client) StartTransaction(
	ctx context.Context, stream string, expectedVersion int64, opts ...OperationOption,
) (*Transaction, error) {
	if err := checkStream(stream); err != nil {
		return nil, err
	}
	creds := c.credentials(opts)
	op := operations.NewStartTransaction(stream, expectedVersion, c.s.RequireMaster(), creds)
	id, err := execute[int64](ctx, c, op, streamAttr(stream))
	if err != nil {
		return nil, err
	}
	return &Transaction{c: c, id: id, creds: creds}, nil
}

// ContinueTransaction resumes a transaction started elsewhere.
func (c *Client) ContinueTransaction(id int64, opts ...OperationOption) *Transaction {
	return &Transaction{c: c, id: id, creds: c.credentials(opts)}
}

func (t *Transaction) ID() int64 { return t.id }

func (t *Transaction) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transaction) Write(ctx context.Context, events ...types.EventData) error {
	if t.isClosed() {
		return fmt.Errorf("write transaction %d: %w", t.id, cerr.ErrTransactionClosed)
	}
	op := operations.NewTransactionalWrite(t.id, events, t.c.s.RequireMaster(), t.creds)
	_, err := execute[struct{}](ctx, t.c, op, attribute.Int64("evstore.transaction", t.id))
	return err
}

func (t *Transaction) Commit(ctx context.Context) (types.WriteResult, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return types.WriteResult{}, fmt.Errorf("commit transaction %d: %w", t.id, cerr.ErrTransactionClosed)
	}
	t.closed = true
	t.mu.Unlock()

	op := operations.NewCommitTransaction(t.id, t.c.s.RequireMaster(), t.creds)
	return execute[types.WriteResult](ctx, t.c, op, attribute.Int64("evstore.transaction", t.id))
}

func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("rollback transaction %d: %w", t.id, cerr.ErrTransactionClosed)
	}
	t.closed = true
	return nil
}

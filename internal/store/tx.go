package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"supportdesk/internal/domain"
)

// Transact runs fn inside a single write transaction. The connection
// uses _txlock=immediate, so the write lock is taken at BEGIN and two
// transactions can never interleave their read-check-write sequences.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(domain.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	t := &sqlTx{ctx: ctx, tx: tx}
	if err := fn(t); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("transaction rollback failed", "err", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqlTx) GetRequest(id string) (*domain.Request, error) {
	return getRequest(t.ctx, t.tx, id)
}

func (t *sqlTx) GetAgent(id string) (*domain.Agent, error) {
	return getAgent(t.ctx, t.tx, id)
}

// AssignRequest binds the request and the agent in one step. Both
// updates are guarded compare-and-swaps: the request must still be
// open and the agent's assignment slot must still be empty, even
// though the arbiter has just checked both inside this transaction.
func (t *sqlTx) AssignRequest(requestID, agentID string, at time.Time) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE requests SET status = 'assigned', agent_id = ?, assigned_at = ?
		 WHERE id = ? AND status = 'open'`,
		agentID, at, requestID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlreadyClaimed
	}

	res, err = t.tx.ExecContext(t.ctx,
		`UPDATE agents SET active_request_id = ?
		 WHERE id = ? AND active_request_id IS NULL`,
		requestID, agentID,
	)
	if err != nil {
		return err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.IneligibleError{AgentID: agentID, Reason: domain.ReasonBusy}
	}
	return nil
}

func (t *sqlTx) CloseRequest(requestID string, at time.Time) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE requests SET status = 'closed', closed_at = ?
		 WHERE id = ? AND status != 'closed'`,
		at, requestID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *sqlTx) ClearAgentAssignment(agentID string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE agents SET active_request_id = NULL WHERE id = ?`,
		agentID,
	)
	return err
}

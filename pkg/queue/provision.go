package queue

import (
	"context"
	"errors"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
)

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// provision creates the status type, table, indexes and triggers for the
// queue. Each statement can be re-run against a provisioned store. The
// statements run while holding a session advisory lock, so that handles
// connecting at the same time do not race on creating the same objects.
//
// A failed statement is logged and provisioning continues, unless strict
// is set, in which case the first failure is returned.
func (queue *Queue) provision(ctx context.Context, objects *pg.Queries, strict bool) (result error) {
	conn := queue.with("provision")

	// Take the lock, and release it on return
	if err := conn.Exec(ctx, "${pgqmini.lock}"); err != nil {
		queue.log.Print(ctx, "provisioning lock failed: ", err)
		return ErrProvisioning.With(err)
	}
	defer func() {
		if err := conn.Exec(context.WithoutCancel(ctx), "${pgqmini.unlock}"); err != nil {
			queue.log.Print(ctx, "provisioning unlock failed: ", err)
			result = errors.Join(result, ErrProvisioning.With(err))
		}
	}()

	// Run the statements in order
	for _, key := range objects.Keys() {
		if err := conn.Exec(ctx, objects.Get(key)); err != nil {
			queue.log.With("step", key).Print(ctx, "provisioning step failed: ", err)
			if strict {
				return ErrProvisioning.Withf(err, "%s", key)
			}
		}
	}

	// Return success
	return nil
}

package port

import (
	"context"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
)

// Authorizer maps (actor, action, target) to a decision
type Authorizer interface {
	Authorize(actor entity.Actor, action policy.Action, target policy.Target) policy.Decision
}

// InstanceLocker serializes orchestration operations on one workflow instance
// across goroutines or processes.
type InstanceLocker interface {
	// Lock blocks until the lock for key is held or ctx is done.
	// The returned release function must be called exactly once.
	Lock(ctx context.Context, key string) (release func(), err error)
}

package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		s := NewStore()
		return storetest.Backend{Repos: s.Repositories(), Tx: s}
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()

	inst := &entity.WorkflowInstance{ID: "inst-1", TaskIDs: []string{"a"}, Status: entity.InstanceStatusNotStarted}
	require.NoError(t, repos.Instances.Create(ctx, inst))

	inst.TaskIDs[0] = "mutated"
	got, err := repos.Instances.GetByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.TaskIDs)

	got.Status = entity.InstanceStatusCancelled
	again, err := repos.Instances.GetByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusNotStarted, again.Status)
}

func TestStore_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()

	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()
		_ = s.WithTransaction(ctx, func(ctx context.Context) error {
			_ = repos.Employees.Create(ctx, &entity.Employee{ID: "emp-1", Email: "a@example.com"})
			panic("boom")
		})
	}()

	got, err := repos.Employees.GetByID(ctx, "emp-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// the store stays usable after a panic
	err = s.WithTransaction(ctx, func(ctx context.Context) error {
		return errors.New("plain failure")
	})
	assert.Error(t, err)
}

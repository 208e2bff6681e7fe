package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workgraph/pkg/models"
)

func TestMemoryGraphStore(t *testing.T) {
	exerciseStore(t, NewMemoryGraphStore())
}

func TestMemoryGraphStore_UncommittedWritesInvisible(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGraphStore()

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.InTx(ctx, func(tx Tx) error {
			if err := tx.CreateNode(ctx, Node{ID: "wf-1", Label: "WORKFLOW_INSTANCE", TenantID: "acme"}); err != nil {
				return err
			}
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	require.NoError(t, store.InTx(ctx, func(tx Tx) error {
		_, err := tx.GetNode(ctx, "wf-1")
		assert.ErrorIs(t, err, models.ErrNotFound)
		return nil
	}))
	close(release)
	require.NoError(t, <-done)

	require.NoError(t, store.InTx(ctx, func(tx Tx) error {
		_, err := tx.GetNode(ctx, "wf-1")
		return err
	}))
}

func TestMemoryGraphStore_GuardRecheckedAtCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryGraphStore()
	require.NoError(t, store.InTx(ctx, func(tx Tx) error {
		return tx.CreateNode(ctx, Node{ID: "t1", Label: "TASK_INSTANCE", TenantID: "acme", Props: map[string]string{"status": "ready"}})
	}))

	const writers = 16
	var wg sync.WaitGroup
	results := make([]error, writers)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = store.InTx(ctx, func(tx Tx) error {
				return tx.UpdateNode(ctx, Node{ID: "t1", Props: map[string]string{"status": "in_progress", "by": fmt.Sprint(i)}},
					Guard{Prop: "status", Expect: "ready"})
			})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrStaleState)
	}
	assert.Equal(t, 1, succeeded)
}

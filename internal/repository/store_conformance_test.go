package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workgraph/pkg/models"
)

// exerciseStore runs the behaviours every Store implementation must share.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		id := uuid.New().String()
		err := store.InTx(ctx, func(tx Tx) error {
			return tx.CreateNode(ctx, Node{
				ID: id, Label: "TASK_INSTANCE", TenantID: "acme",
				Props: map[string]string{"status": "pending"},
				Body:  []byte(`{"id":"` + id + `"}`),
			})
		})
		require.NoError(t, err)

		err = store.InTx(ctx, func(tx Tx) error {
			n, err := tx.GetNode(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "TASK_INSTANCE", n.Label)
			assert.Equal(t, "acme", n.TenantID)
			assert.Equal(t, "pending", n.Props["status"])
			assert.JSONEq(t, `{"id":"`+id+`"}`, string(n.Body))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Failed transaction leaves no trace", func(t *testing.T) {
		id := uuid.New().String()
		boom := errors.New("boom")
		err := store.InTx(ctx, func(tx Tx) error {
			require.NoError(t, tx.CreateNode(ctx, Node{ID: id, Label: "WORKFLOW_INSTANCE", TenantID: "acme"}))
			require.NoError(t, tx.CreateEdge(ctx, Edge{Type: "PART_OF", From: id, To: "x", TenantID: "acme"}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_ = store.InTx(ctx, func(tx Tx) error {
			_, err := tx.GetNode(ctx, id)
			assert.ErrorIs(t, err, models.ErrNotFound)
			edges, err := tx.FindEdges(ctx, EdgeQuery{Type: "PART_OF", From: id, TenantID: "acme"})
			require.NoError(t, err)
			assert.Empty(t, edges)
			return nil
		})
	})

	t.Run("Guarded update detects stale state", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, store.InTx(ctx, func(tx Tx) error {
			return tx.CreateNode(ctx, Node{ID: id, Label: "TASK_INSTANCE", TenantID: "acme", Props: map[string]string{"status": "ready"}})
		}))

		err := store.InTx(ctx, func(tx Tx) error {
			return tx.UpdateNode(ctx, Node{ID: id, Props: map[string]string{"status": "in_progress"}}, Guard{Prop: "status", Expect: "ready"})
		})
		require.NoError(t, err)

		err = store.InTx(ctx, func(tx Tx) error {
			return tx.UpdateNode(ctx, Node{ID: id, Props: map[string]string{"status": "blocked"}}, Guard{Prop: "status", Expect: "ready"})
		})
		assert.ErrorIs(t, err, models.ErrStaleState)

		err = store.InTx(ctx, func(tx Tx) error {
			return tx.UpdateNode(ctx, Node{ID: uuid.New().String()}, Guard{})
		})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Duplicate id conflicts", func(t *testing.T) {
		id := uuid.New().String()
		create := func(tx Tx) error { return tx.CreateNode(ctx, Node{ID: id, Label: "TENANT", TenantID: id}) }
		require.NoError(t, store.InTx(ctx, create))
		assert.ErrorIs(t, store.InTx(ctx, create), ErrConflict)
	})

	t.Run("Find filters by tenant and props", func(t *testing.T) {
		wf := uuid.New().String()
		require.NoError(t, store.InTx(ctx, func(tx Tx) error {
			for _, spec := range []struct{ tenant, status string }{
				{"acme", "pending"}, {"acme", "ready"}, {"globex", "pending"},
			} {
				if err := tx.CreateNode(ctx, Node{
					ID: uuid.New().String(), Label: "TASK_INSTANCE", TenantID: spec.tenant,
					Props: map[string]string{"workflow_instance_id": wf, "status": spec.status},
				}); err != nil {
					return err
				}
			}
			return nil
		}))

		_ = store.InTx(ctx, func(tx Tx) error {
			nodes, err := tx.FindNodes(ctx, NodeQuery{Label: "TASK_INSTANCE", TenantID: "acme", Props: map[string]string{"workflow_instance_id": wf}})
			require.NoError(t, err)
			assert.Len(t, nodes, 2)
			for _, n := range nodes {
				assert.Equal(t, "acme", n.TenantID)
			}

			nodes, err = tx.FindNodes(ctx, NodeQuery{Label: "TASK_INSTANCE", TenantID: "acme", Props: map[string]string{"workflow_instance_id": wf, "status": "pending"}})
			require.NoError(t, err)
			assert.Len(t, nodes, 1)
			return nil
		})
	})

	t.Run("Reads see own writes", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, store.InTx(ctx, func(tx Tx) error {
			require.NoError(t, tx.CreateNode(ctx, Node{ID: id, Label: "WORK_ARTIFACT", TenantID: "acme", Props: map[string]string{"type": "prd"}}))
			nodes, err := tx.FindNodes(ctx, NodeQuery{Label: "WORK_ARTIFACT", TenantID: "acme", Props: map[string]string{"type": "prd"}})
			require.NoError(t, err)
			ids := make([]string, 0, len(nodes))
			for _, n := range nodes {
				ids = append(ids, n.ID)
			}
			assert.Contains(t, ids, id)
			return nil
		}))
	})
}

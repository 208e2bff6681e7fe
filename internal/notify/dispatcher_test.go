package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workgraph/internal/templates"
	"workgraph/pkg/models"
)

type warnLog struct {
	mu    sync.Mutex
	warns []string
}

func (l *warnLog) Debug(msg string, args ...any) {}
func (l *warnLog) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func sampleRegistry(t *testing.T) *templates.Registry {
	t.Helper()
	b, err := templates.SampleBundle()
	require.NoError(t, err)
	reg, err := templates.New(b)
	require.NoError(t, err)
	return reg
}

var feature = models.WorkflowInstance{ID: "wf-1", TemplateID: "FEATURE_001", TenantID: "acme", Status: models.WorkflowActive}

func task(id, template string, role models.Role) models.TaskInstance {
	return models.TaskInstance{ID: id, TemplateID: template, WorkflowInstanceID: "wf-1", TenantID: "acme", AssignedRole: role}
}

func TestOnReadyOrdersByPositionPriorityAndID(t *testing.T) {
	rec := NewRecorder()
	d := NewDispatcher(sampleRegistry(t), &warnLog{}, time.Second, rec)

	d.OnReady(context.Background(), feature, []models.TaskInstance{
		task("t13", "PRODM_FEAT_13", models.RoleProductManager),
		task("t04", "BSA_FEAT_04", models.RoleSystemsAnalyst),
		task("t03", "PRODM_FEAT_03", models.RoleProductManager),
		task("t02", "BA_FEAT_02", models.RoleBusinessAnalyst),
	})

	events := rec.Events(KindReady)
	require.Len(t, events, 4)
	var order []string
	for _, ev := range events {
		order = append(order, ev.TaskInstanceID)
		assert.Equal(t, "acme", ev.TenantID)
		assert.Equal(t, "wf-1", ev.WorkflowInstanceID)
		assert.NotEmpty(t, ev.ID)
	}
	assert.Equal(t, []string{"t02", "t03", "t04", "t13"}, order)
	assert.Equal(t, models.RoleBusinessAnalyst, events[0].Role)
	assert.Equal(t, "feature.requirements.gathered", events[0].TriggerID)
}

func TestOnCompletedAddressesVisibilityRoles(t *testing.T) {
	rec := NewRecorder()
	d := NewDispatcher(sampleRegistry(t), &warnLog{}, time.Second, rec)

	// PRODM_FEAT_01 is visible to BA, BSA and PRODO.
	d.OnCompleted(context.Background(), feature, task("t01", "PRODM_FEAT_01", models.RoleProductManager))
	var roles []models.Role
	for _, ev := range rec.Events(KindCompleted) {
		roles = append(roles, ev.Role)
		assert.Equal(t, "t01", ev.TaskInstanceID)
	}
	assert.ElementsMatch(t, []models.Role{models.RoleBusinessAnalyst, models.RoleSystemsAnalyst, models.RoleProductOwner}, roles)

	// The completing role is excluded when it also appears in the set.
	rec.Reset()
	d.OnCompleted(context.Background(), feature, task("t01", "PRODM_FEAT_01", models.RoleBusinessAnalyst))
	for _, ev := range rec.Events(KindCompleted) {
		assert.NotEqual(t, models.RoleBusinessAnalyst, ev.Role)
	}
	assert.Len(t, rec.Events(KindCompleted), 2)
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	rec := NewRecorder()
	log := &warnLog{}
	failing := SinkFunc{SinkName: "broken", Fn: func(ctx context.Context, ev Event) error {
		return errors.New("connection refused")
	}}
	panicking := SinkFunc{SinkName: "panics", Fn: func(ctx context.Context, ev Event) error {
		panic("boom")
	}}
	d := NewDispatcher(sampleRegistry(t), log, time.Second, failing, panicking, rec)

	d.OnReady(context.Background(), feature, []models.TaskInstance{task("t02", "BA_FEAT_02", models.RoleBusinessAnalyst)})

	assert.Len(t, rec.Events(KindReady), 1)
	assert.Len(t, log.warns, 2)
}

func TestSlowSinkIsBounded(t *testing.T) {
	rec := NewRecorder()
	block := make(chan struct{})
	defer close(block)
	stuck := SinkFunc{SinkName: "stuck", Fn: func(ctx context.Context, ev Event) error {
		<-block // ignores ctx on purpose
		return nil
	}}
	log := &warnLog{}
	d := NewDispatcher(sampleRegistry(t), log, 20*time.Millisecond, stuck, rec)

	start := time.Now()
	d.OnReady(context.Background(), feature, []models.TaskInstance{task("t02", "BA_FEAT_02", models.RoleBusinessAnalyst)})
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, rec.Events(KindReady), 1)
	assert.Len(t, log.warns, 1)
}

func TestCancelledCallerStillDelivers(t *testing.T) {
	rec := NewRecorder()
	d := NewDispatcher(sampleRegistry(t), &warnLog{}, time.Second, rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.OnReady(ctx, feature, []models.TaskInstance{task("t02", "BA_FEAT_02", models.RoleBusinessAnalyst)})
	assert.Len(t, rec.Events(KindReady), 1)
}

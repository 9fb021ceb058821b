package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/flow"
)

func TestResolver_BindEvent_Validation(t *testing.T) {
	r := NewResolver()

	err := r.BindEvent("", "wf")
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))

	err = r.BindEvent("order.created")
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))
}

func TestResolver_ResolveEvent(t *testing.T) {
	r := NewResolver()
	require.NoError(t, r.BindEvent("order.created", "validate-order"))
	require.NoError(t, r.BindEvent("order.created", "notify-warehouse"))

	assert.Equal(t, []string{"validate-order", "notify-warehouse"},
		r.ResolveEvent("order.created"))
	assert.Empty(t, r.ResolveEvent("unknown.event"))
}

func TestResolver_ResolveEvent_ResultIsCopy(t *testing.T) {
	r := NewResolver()
	require.NoError(t, r.BindEvent("e", "wf"))

	got := r.ResolveEvent("e")
	got[0] = "mutated"
	assert.Equal(t, []string{"wf"}, r.ResolveEvent("e"))
}

func TestResolver_BindSchedule_InvalidExpression(t *testing.T) {
	r := NewResolver()

	err := r.BindSchedule("not a cron", "wf")
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))
}

func TestResolver_BindSchedule_NoWorkflows(t *testing.T) {
	r := NewResolver()

	err := r.BindSchedule("* * * * *")
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeValidation, flow.CodeOf(err))
}

func TestResolver_ResolveTick_FiresWithinWindow(t *testing.T) {
	r := NewResolver()
	require.NoError(t, r.BindSchedule("0 * * * *", "hourly-report"))

	// Window spans 09:59:30 to 10:00:30, so the top of the hour fires.
	prev := time.Date(2026, 8, 31, 9, 59, 30, 0, time.UTC)
	now := time.Date(2026, 8, 31, 10, 0, 30, 0, time.UTC)

	assert.Equal(t, []string{"hourly-report"}, r.ResolveTick(prev, now))
}

func TestResolver_ResolveTick_OutsideWindow(t *testing.T) {
	r := NewResolver()
	require.NoError(t, r.BindSchedule("0 * * * *", "hourly-report"))

	prev := time.Date(2026, 8, 31, 10, 1, 0, 0, time.UTC)
	now := time.Date(2026, 8, 31, 10, 2, 0, 0, time.UTC)

	assert.Empty(t, r.ResolveTick(prev, now))
}

func TestResolver_ResolveTick_DeduplicatesWorkflows(t *testing.T) {
	r := NewResolver()
	// Two different schedules for the same workflow, both firing in the window.
	require.NoError(t, r.BindSchedule("* * * * *", "ingest"))
	require.NoError(t, r.BindSchedule("0 * * * *", "ingest", "audit"))

	prev := time.Date(2026, 8, 31, 9, 59, 30, 0, time.UTC)
	now := time.Date(2026, 8, 31, 10, 0, 30, 0, time.UTC)

	due := r.ResolveTick(prev, now)
	assert.Equal(t, []string{"ingest", "audit"}, due)
}

func TestResolver_Schedules(t *testing.T) {
	r := NewResolver()
	require.NoError(t, r.BindSchedule("* * * * *", "a"))
	require.NoError(t, r.BindSchedule("30 4 * * *", "b"))

	assert.Equal(t, []string{"* * * * *", "30 4 * * *"}, r.Schedules())
}

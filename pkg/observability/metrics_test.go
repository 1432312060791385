package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/evaluator"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
	"github.com/platinummonkey/gatekeeper/pkg/session"
)

var (
	_ evaluator.Recorder = (*Metrics)(nil)
	_ roles.MemoRecorder = (*Metrics)(nil)
	_ session.Observer   = (*Metrics)(nil)
)

func TestRecordEvaluation(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordEvaluation("granted", true, 2*time.Millisecond)
	m.RecordEvaluation("granted", true, time.Millisecond)
	m.RecordEvaluation("denied", false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("granted", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("denied", "false")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.EvaluationDuration))
}

func TestRecordMemo(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordMemoHit()
	m.RecordMemoHit()
	m.RecordMemoMiss()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MemoHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoMissesTotal))
}

func TestSessionTransitionLabels(t *testing.T) {
	m := NewMetrics(nil)
	ctx := context.Background()
	s := &session.Session{Mode: session.ModeEscalated}

	m.SessionTransition(ctx, s, session.TransitionEscalate, nil)
	m.SessionTransition(ctx, &session.Session{Mode: session.ModeNormal}, session.TransitionEscalate,
		accesserr.New(accesserr.ErrInvalidEscalationCredential, "session.Escalate"))
	m.SessionTransition(ctx, nil, session.TransitionLogin, errors.New("unclassified"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitionsTotal.WithLabelValues("escalate", "escalated", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitionsTotal.WithLabelValues("escalate", "normal", accesserr.Label(accesserr.ErrInvalidEscalationCredential))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitionsTotal.WithLabelValues("login", "", "internal")))
}

func TestRecordReloadAndStoreErrors(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordReload(10*time.Millisecond, nil)
	m.RecordReload(time.Millisecond, accesserr.New(accesserr.ErrCorruptHierarchy, "rbac.Reload"))
	m.RecordStoreError("LoadMembershipsForUser")
	m.RecordRoleWrite("create", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotVersion))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotReloadsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("LoadMembershipsForUser")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoleWritesTotal.WithLabelValues("create", "ok")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordMemoHit()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "gatekeeper_role_memo_hits_total 1"))
}

package syncer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"jobgrid/internal/grid"
	"jobgrid/internal/jobfile"
	"jobgrid/internal/storage"
	logx "jobgrid/pkg/logx"
)

func spec(name string, mut func(*jobfile.Spec)) jobfile.Spec {
	s := jobfile.Spec{Name: name, Command: "true", Image: "tool-containers/bot:latest"}
	if mut != nil {
		mut(&s)
	}
	return s
}

func TestComputeDiff(t *testing.T) {
	t.Parallel()

	unchanged := spec("same", func(s *jobfile.Spec) { s.Schedule = "0 * * * *" })
	changed := spec("edited", nil)
	kindFlip := spec("flip", func(s *jobfile.Spec) { s.Continuous = true })

	live := []grid.LiveJob{
		{Name: "same", Kind: jobfile.KindScheduled, SpecHash: jobfile.Hash(unchanged)},
		{Name: "edited", Kind: jobfile.KindOneOff, SpecHash: "stale-hash"},
		{Name: "flip", Kind: jobfile.KindScheduled, SpecHash: jobfile.Hash(kindFlip)},
		{Name: "gone", Kind: jobfile.KindContinuous, SpecHash: "whatever"},
	}
	specs := []jobfile.Spec{unchanged, changed, kindFlip, spec("fresh", nil)}

	d := Compute(specs, live)
	assert.False(t, d.Empty())

	require.Len(t, d.Create, 1)
	assert.Equal(t, "fresh", d.Create[0].Name)

	require.Len(t, d.Update, 2)
	assert.Equal(t, "edited", d.Update[0].Name)
	assert.Equal(t, "flip", d.Update[1].Name)

	require.Len(t, d.Unchanged, 1)
	assert.Equal(t, "same", d.Unchanged[0].Name)

	require.Len(t, d.Orphans, 1)
	assert.Equal(t, "gone", d.Orphans[0].Name)

	assert.True(t, Compute(specs[:1], live[:1]).Empty())
}

func testSyncer(t *testing.T, prune bool) (*Syncer, grid.Backend, storage.Store) {
	t.Helper()
	backend := grid.New(fake.NewSimpleClientset(), "tool-testbot", "testbot", logx.Nop())
	st, err := storage.Open(storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "state.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(backend, st, logx.Nop(), Options{Prune: prune}), backend, st
}

func TestApplyConvergesAndPrunes(t *testing.T) {
	t.Parallel()
	s, backend, st := testSyncer(t, true)
	ctx := context.Background()

	specs := []jobfile.Spec{
		spec("daily", func(s *jobfile.Spec) { s.Schedule = "30 2 * * *" }),
		spec("watcher", func(s *jobfile.Spec) { s.Continuous = true }),
	}

	res, err := s.Apply(ctx, specs)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2}, res)

	// idempotent
	res, err = s.Apply(ctx, specs)
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 2}, res)

	states, err := st.ListJobStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "daily", states[0].Name)
	assert.Equal(t, "applied", states[0].Phase)

	// dropping a job from the file prunes it from grid and state
	res, err = s.Apply(ctx, specs[:1])
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 1, Deleted: 1}, res)

	_, err = backend.Get(ctx, "watcher")
	assert.ErrorIs(t, err, grid.ErrNotFound)

	states, err = st.ListJobStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "daily", states[0].Name)

	audit, err := st.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Equal(t, "delete", audit[0].Action)
	assert.True(t, audit[0].OK)
}

func TestApplyWithoutPruneKeepsOrphans(t *testing.T) {
	t.Parallel()
	s, backend, _ := testSyncer(t, false)
	ctx := context.Background()

	all := []jobfile.Spec{spec("keep", nil), spec("extra", nil)}
	_, err := s.Apply(ctx, all)
	require.NoError(t, err)

	res, err := s.Apply(ctx, all[:1])
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 1}, res)

	_, err = backend.Get(ctx, "extra")
	assert.NoError(t, err, "orphan should survive without prune")
}

func TestCompleteRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := fake.NewSimpleClientset()
	backend := grid.New(cs, "tool-testbot", "testbot", logx.Nop())
	st, err := storage.Open(storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "state.db"),
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	s := New(backend, st, logx.Nop(), Options{})

	objectName, err := backend.TriggerRun(ctx, spec("daily", nil))
	require.NoError(t, err)
	require.NoError(t, st.StartRun(ctx, storage.Run{ID: objectName, Job: "daily"}))
	require.NoError(t, st.StartRun(ctx, storage.Run{ID: "vanished", Job: "daily"}))

	// first sweep: the triggered object is still running, the other is gone
	require.NoError(t, s.CompleteRuns(ctx))
	runs, err := st.RecentRuns(ctx, "daily", 10)
	require.NoError(t, err)
	byID := map[string]storage.Run{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	assert.Equal(t, storage.RunStatusRunning, byID[objectName].Status)
	assert.Equal(t, storage.RunStatusFail, byID["vanished"].Status)
	assert.Equal(t, "run object missing", byID["vanished"].Detail)

	j, err := cs.BatchV1().Jobs("tool-testbot").Get(ctx, objectName, metav1.GetOptions{})
	require.NoError(t, err)
	j.Status.Succeeded = 1
	_, err = cs.BatchV1().Jobs("tool-testbot").Update(ctx, j, metav1.UpdateOptions{})
	require.NoError(t, err)

	require.NoError(t, s.CompleteRuns(ctx))
	runs, err = st.RecentRuns(ctx, "daily", 10)
	require.NoError(t, err)
	for _, r := range runs {
		if r.ID == objectName {
			assert.Equal(t, storage.RunStatusDone, r.Status)
			assert.False(t, r.EndedAt.IsZero())
		}
	}
}

func TestApplyUpdateChangesObject(t *testing.T) {
	t.Parallel()
	s, backend, _ := testSyncer(t, false)
	ctx := context.Background()

	job := spec("report", func(s *jobfile.Spec) { s.Schedule = "0 3 * * *" })
	_, err := s.Apply(ctx, []jobfile.Spec{job})
	require.NoError(t, err)

	job.Command = "./report.sh --full"
	res, err := s.Apply(ctx, []jobfile.Spec{job})
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1}, res)

	lj, err := backend.Get(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, jobfile.Hash(job), lj.SpecHash)
}

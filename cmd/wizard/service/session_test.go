package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mutwizard/common/cache"
	"github.com/lyzr/mutwizard/common/config"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/metrics"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/queue"
	"github.com/lyzr/mutwizard/common/ratelimit"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/lyzr/mutwizard/common/staging"
)

// fakeStructure is an in-memory structure bridge
type fakeStructure struct {
	mu        sync.Mutex
	residues  map[residue.ID]string
	failing   map[residue.ID]string
	selection []staging.SelectedResidue
	lookups   map[residue.ID]int
	rotamers  []int
	clashes   int
}

func newFakeStructure() *fakeStructure {
	return &fakeStructure{
		residues: map[residue.ID]string{
			residue.New("A", 1, ""): "ALA",
			residue.New("A", 2, ""): "GLY",
			residue.New("B", 5, ""): "SER",
		},
		failing: map[residue.ID]string{},
		lookups: map[residue.ID]int{},
	}
}

func (f *fakeStructure) Apply(ctx context.Context, req engine.ApplyRequest) ([]engine.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reason, ok := f.failing[req.Residue]; ok {
		return nil, mutation.NewPrimitiveError("%s", reason)
	}
	f.residues[req.Residue] = req.Target
	return []engine.Candidate{{Index: 0, Score: 0.4}, {Index: 1, Score: 0.9}, {Index: 2, Score: 0.9}}, nil
}

func (f *fakeStructure) SetRotamer(ctx context.Context, id residue.ID, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotamers = append(f.rotamers, index)
	return nil
}

func (f *fakeStructure) LookupResidue(ctx context.Context, id residue.ID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[id]++
	t, ok := f.residues[id]
	return t, ok, nil
}

func (f *fakeStructure) ExportStructure(ctx context.Context, format engine.ExportFormat) ([]string, error) {
	return []string{"/tmp/model." + string(format)}, nil
}

func (f *fakeStructure) CountClashes(ctx context.Context, residues []residue.ID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clashes, nil
}

func (f *fakeStructure) CurrentSelection(ctx context.Context) ([]staging.SelectedResidue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selection, nil
}

type fakeStore struct {
	mu      sync.Mutex
	reports map[uuid.UUID]engine.Report
	owners  map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: map[uuid.UUID]engine.Report{}, owners: map[uuid.UUID]string{}}
}

func (s *fakeStore) Save(ctx context.Context, ownerID string, report engine.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.RunID] = report
	s.owners[report.RunID] = ownerID
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, ownerID string, runID uuid.UUID) (*engine.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[runID]
	if !ok || s.owners[runID] != ownerID {
		return nil, mutation.ErrNotFound
	}
	return &r, nil
}

func (s *fakeStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*engine.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*engine.Report
	for id, r := range s.reports {
		if s.owners[id] == ownerID {
			r := r
			out = append(out, &r)
		}
	}
	return out, nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

type fakeLimiter struct {
	allowed bool
	err     error
	tiers   []ratelimit.RunTier
}

func (l *fakeLimiter) CheckTieredLimit(ctx context.Context, owner string, tier ratelimit.RunTier) (*ratelimit.RateLimitResult, error) {
	l.tiers = append(l.tiers, tier)
	if l.err != nil {
		return nil, l.err
	}
	return &ratelimit.RateLimitResult{Allowed: l.allowed, Limit: 5, RetryAfterSeconds: 30}, nil
}

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

func newTestManager(t *testing.T, structure *fakeStructure, mutate ...func(*SessionManagerOpts)) *SessionManager {
	t.Helper()

	c := cache.NewMemoryCache(testLogger())
	t.Cleanup(func() { _ = c.Close() })

	opts := &SessionManagerOpts{
		Structure: structure,
		Cache:     c,
		LookupTTL: time.Minute,
		Defaults:  engine.DefaultPolicy(),
		Logger:    testLogger(),
	}
	for _, fn := range mutate {
		fn(opts)
	}

	m, err := NewSessionManager(opts)
	require.NoError(t, err)
	return m
}

func TestNewSessionManager_RequiresStructure(t *testing.T) {
	_, err := NewSessionManager(&SessionManagerOpts{Logger: testLogger()})
	assert.Error(t, err)
}

func TestManager_SessionsPerOwner(t *testing.T) {
	m := newTestManager(t, newFakeStructure())

	alice, err := m.Get("alice")
	require.NoError(t, err)
	bob, err := m.Get("bob")
	require.NoError(t, err)
	anon, err := m.Get("")
	require.NoError(t, err)

	assert.NotSame(t, alice, bob)
	assert.Equal(t, AnonymousOwner, anon.Owner)

	again, err := m.Get("alice")
	require.NoError(t, err)
	assert.Same(t, alice, again)
	assert.Equal(t, 3, m.Len())

	_, err = alice.Add(context.Background(), residue.New("A", 1, ""), "TRP", "")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.Table.Len())
	assert.Equal(t, 0, bob.Table.Len())
}

func TestManager_ResetRefusesRunningRun(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStructure())
	s, err := m.Get("alice")
	require.NoError(t, err)

	_, err = s.Add(ctx, residue.New("A", 1, ""), "TRP", "")
	require.NoError(t, err)
	_, err = s.StartRun(ctx, engine.Options{Mode: engine.ModeStep})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Reset("alice"), engine.ErrRunActive)

	require.NoError(t, s.Abort(ctx))
	require.NoError(t, m.Reset("alice"))
	_, exists := m.Lookup("alice")
	assert.False(t, exists)

	// unknown owners reset as a no-op
	assert.NoError(t, m.Reset("nobody"))
}

func TestSession_AddResolvesSourceType(t *testing.T) {
	ctx := context.Background()
	structure := newFakeStructure()
	s, err := newTestManager(t, structure).Get("alice")
	require.NoError(t, err)

	a1 := residue.New("A", 1, "")
	rec, err := s.Add(ctx, a1, "trp", "")
	require.NoError(t, err)
	assert.Equal(t, "ALA", rec.SourceType)
	assert.Equal(t, "TRP", rec.TargetType)

	// second lookup is served from the cache
	_, err = s.Add(ctx, a1, "TYR", "")
	require.NoError(t, err)
	assert.Equal(t, 1, structure.lookups[a1])
	assert.Equal(t, 1, s.Table.Len())

	// an explicit source skips the lookup
	_, err = s.Add(ctx, residue.New("A", 2, ""), "TRP", "GLY")
	require.NoError(t, err)
	assert.Zero(t, structure.lookups[residue.New("A", 2, "")])

	_, err = s.Add(ctx, residue.New("Z", 99, ""), "TRP", "")
	assert.ErrorIs(t, err, mutation.ErrNotFound)

	_, err = s.Add(ctx, a1, "XYZ", "ALA")
	assert.ErrorIs(t, err, mutation.ErrInvalidTarget)
}

func TestSession_LookupCacheDroppedAfterMutation(t *testing.T) {
	ctx := context.Background()
	s, err := newTestManager(t, newFakeStructure()).Get("alice")
	require.NoError(t, err)

	a1 := residue.New("A", 1, "")
	_, err = s.Add(ctx, a1, "TRP", "")
	require.NoError(t, err)

	res, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.Equal(t, 1, res.Report.Counts.Applied)

	// the structure now holds TRP at A 1; a stale cache would still say ALA
	rec, err := s.Add(ctx, a1, "GLY", "")
	require.NoError(t, err)
	assert.Equal(t, "TRP", rec.SourceType)
}

func TestSession_StageSelection(t *testing.T) {
	ctx := context.Background()
	structure := newFakeStructure()
	structure.selection = []staging.SelectedResidue{
		{Residue: residue.New("A", 1, ""), ObservedType: "ALA"},
		{Residue: residue.New("A", 2, ""), ObservedType: "GLY"},
		{Residue: residue.New("B", 5, ""), ObservedType: "ALA"},
	}
	s, err := newTestManager(t, structure).Get("alice")
	require.NoError(t, err)

	records, err := s.StageSelection(ctx, "trp", `type == "ALA"`)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, residue.New("A", 1, ""), records[0].Residue)
	assert.Equal(t, residue.New("B", 5, ""), records[1].Residue)
	assert.Equal(t, "TRP", records[1].TargetType)

	all, err := s.StageSelection(ctx, "GLY", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 3, s.Table.Len())

	_, err = s.StageSelection(ctx, "GLY", `chain == "Q"`)
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = s.StageSelection(ctx, "GLY", `seq +`)
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = s.StageSelection(ctx, "XYZ", "")
	assert.ErrorIs(t, err, mutation.ErrInvalidTarget)
}

func TestSession_ImportRunsInFileOrder(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s, err := newTestManager(t, newFakeStructure(), func(o *SessionManagerOpts) {
		o.Metrics = m
	}).Get("alice")
	require.NoError(t, err)

	res, err := s.Import(ctx, strings.NewReader("B 5,GLY\nA 1,TRP\nX\n"))
	require.NoError(t, err)
	assert.Len(t, res.Imported, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Line)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ImportLinesTotal.WithLabelValues("imported")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ImportLinesTotal.WithLabelValues("rejected")))

	started, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeIndividual})
	require.NoError(t, err)
	require.NotNil(t, started.Report)
	require.Len(t, started.Report.Entries, 2)
	assert.Equal(t, residue.New("B", 5, ""), started.Report.Entries[0].Residue)
	assert.Equal(t, residue.New("A", 1, ""), started.Report.Entries[1].Residue)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("individual", "COMPLETED")))
}

func TestSession_ManualAddRestoresResidueOrder(t *testing.T) {
	ctx := context.Background()
	s, err := newTestManager(t, newFakeStructure()).Get("alice")
	require.NoError(t, err)

	_, err = s.Import(ctx, strings.NewReader("B 5,GLY\n"))
	require.NoError(t, err)
	_, err = s.Add(ctx, residue.New("A", 1, ""), "TRP", "")
	require.NoError(t, err)

	started, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.NoError(t, err)
	require.Len(t, started.Report.Entries, 2)
	assert.Equal(t, residue.New("A", 1, ""), started.Report.Entries[0].Residue)
}

func TestSession_BatchSkipAndContinue(t *testing.T) {
	ctx := context.Background()
	structure := newFakeStructure()
	structure.failing[residue.New("A", 2, "")] = "clash with ligand"
	s, err := newTestManager(t, structure).Get("alice")
	require.NoError(t, err)

	for _, seq := range []int{1, 2} {
		_, err := s.Add(ctx, residue.New("A", seq, ""), "TRP", "")
		require.NoError(t, err)
	}
	_, err = s.Add(ctx, residue.New("B", 5, ""), "TRP", "")
	require.NoError(t, err)

	res, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.NoError(t, err)
	assert.Equal(t, engine.StateCompleted, res.State)
	assert.Equal(t, engine.Counts{Applied: 2, Failed: 1}, res.Report.Counts)
	assert.Equal(t, "clash with ligand", res.Report.Failures()[0].ErrorReason)
}

func TestSession_StepRun(t *testing.T) {
	ctx := context.Background()
	structure := newFakeStructure()
	s, err := newTestManager(t, structure).Get("alice")
	require.NoError(t, err)

	_, err = s.Advance(ctx)
	assert.ErrorIs(t, err, engine.ErrNoRun)
	_, err = s.Report()
	assert.ErrorIs(t, err, engine.ErrNoRun)

	for _, seq := range []int{1, 2} {
		_, err := s.Add(ctx, residue.New("A", seq, ""), "TRP", "")
		require.NoError(t, err)
	}

	res, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeStep})
	require.NoError(t, err)
	assert.Equal(t, engine.StateRunning, res.State)
	assert.Equal(t, 2, res.Pending)
	assert.Nil(t, res.Report)

	step, err := s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusApplied, step.Record.Status)
	require.NotNil(t, step.Record.SelectedRotamer)
	assert.Equal(t, 1, *step.Record.SelectedRotamer)
	assert.Len(t, step.Candidates, 3)

	rec, err := s.OverrideRotamer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, *rec.SelectedRotamer)
	assert.Equal(t, []int{2}, structure.rotamers)

	_, err = s.OverrideRotamer(ctx, 7)
	assert.ErrorIs(t, err, mutation.ErrInvalidRotamerIndex)

	require.NoError(t, s.Abort(ctx))
	report, err := s.Report()
	require.NoError(t, err)
	assert.Equal(t, engine.StateAborted, report.State)
	assert.Equal(t, 1, report.Counts.Pending)

	// the unprocessed record is still staged and a new run takes only it
	rerun, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.NoError(t, err)
	require.Len(t, rerun.Report.Entries, 1)
	assert.Equal(t, residue.New("A", 2, ""), rerun.Report.Entries[0].Residue)
}

func TestSession_ExportRefusesClashes(t *testing.T) {
	ctx := context.Background()
	structure := newFakeStructure()
	s, err := newTestManager(t, structure).Get("alice")
	require.NoError(t, err)

	_, err = s.Add(ctx, residue.New("A", 1, ""), "TRP", "")
	require.NoError(t, err)
	_, err = s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.NoError(t, err)

	structure.clashes = 3
	_, err = s.Export(ctx, engine.ExportPDB, false)
	assert.ErrorIs(t, err, engine.ErrClashesDetected)

	paths, err := s.Export(ctx, engine.ExportPDB, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/model.pdb"}, paths)
}

func TestSession_ClearForgetsRun(t *testing.T) {
	ctx := context.Background()
	s, err := newTestManager(t, newFakeStructure()).Get("alice")
	require.NoError(t, err)

	_, err = s.Add(ctx, residue.New("A", 1, ""), "TRP", "")
	require.NoError(t, err)
	_, err = s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Table.Len())
	_, err = s.Report()
	assert.ErrorIs(t, err, engine.ErrNoRun)
}

func TestSession_ClearDuringStepRun(t *testing.T) {
	ctx := context.Background()
	structure := newFakeStructure()
	s, err := newTestManager(t, structure).Get("alice")
	require.NoError(t, err)

	for seq := 1; seq <= 2; seq++ {
		_, err = s.Add(ctx, residue.New("A", seq, ""), "TRP", "")
		require.NoError(t, err)
	}
	started, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeStep})
	require.NoError(t, err)
	_, err = s.Advance(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	assert.Zero(t, s.Table.Len())

	// the run keeps its snapshot, its results no longer land in the table
	run := s.Engine.Current()
	require.NotNil(t, run)
	assert.Equal(t, started.RunID, run.ID())
	step, err := s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusApplied, step.Record.Status)
	assert.Equal(t, engine.StateCompleted, step.State)
	assert.Zero(t, s.Table.Len())

	require.NoError(t, s.Clear())
	_, err = s.Report()
	assert.ErrorIs(t, err, engine.ErrNoRun)
}

func TestSession_RateLimit(t *testing.T) {
	ctx := context.Background()
	limiter := &fakeLimiter{allowed: false}
	s, err := newTestManager(t, newFakeStructure(), func(o *SessionManagerOpts) {
		o.Limiter = limiter
	}).Get("alice")
	require.NoError(t, err)

	_, err = s.Add(ctx, residue.New("A", 1, ""), "TRP", "")
	require.NoError(t, err)

	_, err = s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, int64(30), rl.RetryAfterSeconds)
	assert.Equal(t, []ratelimit.RunTier{ratelimit.TierLight}, limiter.tiers)

	// the refused run never started
	assert.Nil(t, s.Engine.Current())

	// an unreachable limiter lets runs through
	limiter.err = errors.New("redis down")
	res, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.NoError(t, err)
	assert.Equal(t, engine.StateCompleted, res.State)
}

func TestArchive_StoresFinishedRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewMemoryQueue(testLogger())
	defer q.Close()
	store := newFakeStore()
	archive := NewReportArchive(store, q, testLogger())
	require.NoError(t, archive.Start(ctx))

	s, err := newTestManager(t, newFakeStructure(), func(o *SessionManagerOpts) {
		o.Queue = q
	}).Get("alice")
	require.NoError(t, err)

	_, err = s.Add(ctx, residue.New("A", 1, ""), "TRP", "")
	require.NoError(t, err)
	res, err := s.StartRun(ctx, engine.Options{Mode: engine.ModeBatch})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	got, err := archive.Get(ctx, "alice", res.RunID)
	require.NoError(t, err)
	assert.Equal(t, engine.StateCompleted, got.State)

	_, err = archive.Get(ctx, "bob", res.RunID)
	assert.ErrorIs(t, err, mutation.ErrNotFound)

	list, err := archive.List(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestArchive_Disabled(t *testing.T) {
	archive := NewReportArchive(nil, nil, testLogger())
	require.NoError(t, archive.Start(context.Background()))

	_, err := archive.Get(context.Background(), "alice", uuid.New())
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
	_, err = archive.List(context.Background(), "alice", 10)
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
}

func TestDefaultsFromConfig(t *testing.T) {
	d := DefaultsFromConfig(config.EngineConfig{
		BatchOnFailure:      "stop_run",
		IndividualOnFailure: "skip_and_continue",
		StepOnFailure:       "stop_run",
		Refinement:          "sculpt",
		SculptCycles:        25,
	})
	assert.Equal(t, engine.StopRun, d.BatchOnFailure)
	assert.Equal(t, engine.SkipAndContinue, d.IndividualOnFailure)
	assert.Equal(t, engine.Refinement{Method: engine.RefineSculpt, Cycles: 25}, d.Refinement)

	d = DefaultsFromConfig(config.EngineConfig{Refinement: "default", SculptCycles: 25})
	assert.Zero(t, d.Refinement.Cycles)
}

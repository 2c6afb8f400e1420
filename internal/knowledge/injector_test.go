package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/sanitize"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

type fixture struct {
	ctx   context.Context
	queue *validation.Queue
	inj   *Injector
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	root := t.TempDir()

	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	q := validation.NewQueue(filepath.Join(root, "queue"), validation.Config{MinConfidence: 0.5}, zap.NewNop())
	require.NoError(t, q.Init())

	inj := NewInjector(filepath.Join(root, "knowledge"), q, cfg, zap.NewNop())
	inj.now = tick
	require.NoError(t, inj.Init())

	return &fixture{ctx: context.Background(), queue: q, inj: inj}
}

func (f *fixture) submit(t *testing.T, id string, typ extraction.FactType, conf float64) {
	t.Helper()
	n, err := f.queue.Submit(f.ctx, []extraction.CandidateFact{{
		ID:            id,
		Type:          typ,
		Pattern:       "faq_en",
		Source:        extraction.Source{SessionID: "sess_" + id},
		UserMessage:   "How do I configure " + id + " pricing?",
		ExtractedFact: "Pricing for " + id + " is configured in settings.",
		Confidence:    conf,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func (f *fixture) approve(t *testing.T, id string) {
	t.Helper()
	ok, err := f.queue.SetStatus(f.ctx, id, extraction.StatusApproved, validation.Review{ReviewedBy: "reviewer"})
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) versions(t *testing.T) []VersionInfo {
	t.Helper()
	v, err := f.inj.ListVersions(f.ctx)
	require.NoError(t, err)
	return v
}

func TestProcessApproved_InjectsAndIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.submit(t, "f1", extraction.TypeFAQ, 0.8)
	f.submit(t, "f2", extraction.TypeGap, 0.7)
	f.submit(t, "f3", extraction.TypeFAQ, 0.9)
	f.approve(t, "f1")
	f.approve(t, "f2")

	res, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 2, res.TotalChunks)
	assert.ElementsMatch(t, []string{"f1", "f2"}, res.InjectedIDs)

	versions := f.versions(t)
	require.Len(t, versions, 1)
	assert.Equal(t, ReasonPreEnrichment, versions[0].Reason)
	assert.Equal(t, 0, versions[0].ChunkCount)

	approved, err := f.queue.List(f.ctx, extraction.StatusApproved)
	require.NoError(t, err)
	for _, e := range approved {
		assert.True(t, e.InjectedToKB, e.ID)
		assert.NotNil(t, e.InjectedAt, e.ID)
	}

	again, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
	assert.Equal(t, 2, again.TotalChunks)
	assert.Len(t, f.versions(t), 1, "no snapshot without work")

	base, err := f.inj.Load(f.ctx)
	require.NoError(t, err)
	require.Len(t, base.Chunks, 2)
	for _, c := range base.Chunks {
		assert.True(t, c.IsLearned())
		assert.Equal(t, "default", c.TenantID)
		require.NotNil(t, c.Metadata)
		assert.Equal(t, "reviewer", c.Metadata.ReviewedBy)
		assert.Equal(t, LearnedPrefix+c.OriginalID(), c.ID)
	}
}

func TestProcessApproved_ConfidenceGateAppliesAfterApproval(t *testing.T) {
	f := newFixture(t, Config{MinConfidence: 0.6})
	f.submit(t, "f1", extraction.TypeInsight, 0.55)
	f.approve(t, "f1")

	res, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.BelowThreshold)
	assert.Equal(t, 0, res.TotalChunks)
	assert.Empty(t, f.versions(t))

	e, _, err := f.queue.Get(f.ctx, "f1")
	require.NoError(t, err)
	assert.False(t, e.InjectedToKB)
}

func TestProcessApproved_NeverInjectsTwice(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.submit(t, "f1", extraction.TypeFAQ, 0.8)
	f.approve(t, "f1")

	// A chunk for f1 already exists, e.g. from a run whose marking step
	// was interrupted.
	existing := ChunkFromEntry(validation.Entry{CandidateFact: extraction.CandidateFact{ID: "f1", Type: extraction.TypeFAQ}}, "default", time.Now())
	require.NoError(t, f.inj.persist(f.inj.BasePath(), &Base{Chunks: []Chunk{existing}}))

	res, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.TotalChunks)

	e, _, err := f.queue.Get(f.ctx, "f1")
	require.NoError(t, err)
	assert.True(t, e.InjectedToKB)

	for i := 2; i <= 4; i++ {
		id := fmt.Sprintf("f%d", i)
		f.submit(t, id, extraction.TypeFAQ, 0.8)
		f.approve(t, id)
		_, err := f.inj.ProcessApproved(f.ctx)
		require.NoError(t, err)
	}

	base, err := f.inj.Load(f.ctx)
	require.NoError(t, err)
	perFact := map[string]int{}
	for _, c := range base.Chunks {
		perFact[c.OriginalID()]++
	}
	for id, n := range perFact {
		assert.Equal(t, 1, n, id)
	}
	assert.Len(t, perFact, 4)
}

func TestProcessApproved_PersistFailureLeavesFactsUnmarked(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.submit(t, "f1", extraction.TypeFAQ, 0.8)
	f.approve(t, "f1")

	boom := errors.New("disk full")
	f.inj.persist = func(string, any) error { return boom }

	_, err := f.inj.ProcessApproved(f.ctx)
	require.ErrorIs(t, err, boom)

	e, _, err := f.queue.Get(f.ctx, "f1")
	require.NoError(t, err)
	assert.False(t, e.InjectedToKB)
	assert.Len(t, f.versions(t), 1, "snapshot precedes the failed write")

	records, err := f.inj.AuditLog()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessApproved_BoundedPerRun(t *testing.T) {
	f := newFixture(t, Config{MinConfidence: 0.6, MaxChunksPerRun: 2})
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("f%d", i)
		f.submit(t, id, extraction.TypeFAQ, 0.8)
		f.approve(t, id)
	}

	first, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 1, first.Deferred)

	second, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 3, second.TotalChunks)
}

func TestProcessApproved_PreservesAuthoredChunks(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	authored := `{"chunks":[{"id":"policy_returns","type":"policy","title":"Returns","text":"30 days","custom":{"owner":"ops"}}]}`
	require.NoError(t, os.WriteFile(f.inj.BasePath(), []byte(authored), 0o644))

	f.submit(t, "f1", extraction.TypeFAQ, 0.8)
	f.approve(t, "f1")
	_, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(f.inj.BasePath())
	require.NoError(t, err)
	var raw struct {
		Chunks []map[string]any `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw.Chunks, 2)
	assert.Equal(t, map[string]any{"owner": "ops"}, raw.Chunks[0]["custom"])

	st, err := f.inj.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalChunks)
	assert.Equal(t, 1, st.LearnedChunks)
	assert.InDelta(t, 0.5, st.LearnedRatio, 1e-9)
	assert.Equal(t, 1, st.Versions)
}

func TestRollback_RoundTrip(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.submit(t, "f1", extraction.TypeFAQ, 0.8)
	f.submit(t, "f2", extraction.TypeCorrection, 0.85)
	f.approve(t, "f1")
	f.approve(t, "f2")
	_, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)

	f.submit(t, "f3", extraction.TypeGap, 0.8)
	f.approve(t, "f3")
	_, err = f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)

	versions := f.versions(t)
	require.Len(t, versions, 2)
	target := versions[0] // newest: the two-chunk state
	require.Equal(t, 2, target.ChunkCount)

	snap, err := readSnapshot(target.Path)
	require.NoError(t, err)

	res, err := f.inj.Rollback(f.ctx, target.File)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Restored)
	assert.True(t, res.SnapshotTimestamp.Equal(target.Timestamp))

	base, err := f.inj.Load(f.ctx)
	require.NoError(t, err)
	want, err := json.Marshal(snap.Chunks)
	require.NoError(t, err)
	got, err := json.Marshal(base.Chunks)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	after := f.versions(t)
	require.Len(t, after, 3)
	assert.Equal(t, ReasonPreRollback, after[0].Reason)
	assert.Equal(t, 3, after[0].ChunkCount)
	assert.Equal(t, res.Backup, after[0].File)

	records, err := f.inj.AuditLog()
	require.NoError(t, err)
	require.Len(t, records, 3)
	last := records[2]
	assert.Equal(t, ActionRollback, last.Action)
	assert.Equal(t, 2, last.Restored)
	require.NotNil(t, last.SnapshotTimestamp)
	assert.True(t, last.SnapshotTimestamp.Equal(target.Timestamp))
}

func TestRollback_AcceptsFullPath(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	path, err := f.inj.writeSnapshot([]Chunk{}, ReasonPreEnrichment)
	require.NoError(t, err)

	res, err := f.inj.Rollback(f.ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Restored)
}

func TestRollback_Errors(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.inj.Rollback(f.ctx, "../kb.json")
	assert.ErrorIs(t, err, sanitize.ErrPathTraversal)

	_, err = f.inj.Rollback(f.ctx, "kb_missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(f.inj.versionsDir(), "kb_bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{oops"), 0o644))
	_, err = f.inj.Rollback(f.ctx, "kb_bad.json")
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	assert.Empty(t, f.versions(t), "failed rollbacks take no backup")
}

func TestListVersions_OmitsUnparsable(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.inj.writeSnapshot([]Chunk{}, ReasonPreEnrichment)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.inj.versionsDir(), "kb_00000000T000000.000000000Z.json"), []byte("not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.inj.versionsDir(), "notes.txt"), []byte("x"), 0o644))

	versions := f.versions(t)
	require.Len(t, versions, 1)
	assert.Equal(t, ReasonPreEnrichment, versions[0].Reason)
}

func TestSnapshotRetention(t *testing.T) {
	f := newFixture(t, Config{MaxVersions: 3})
	var paths []string
	for i := 0; i < 5; i++ {
		p, err := f.inj.writeSnapshot([]Chunk{}, ReasonPreEnrichment)
		require.NoError(t, err)
		paths = append(paths, filepath.Base(p))
	}

	names, err := f.inj.versionFiles()
	require.NoError(t, err)
	assert.Equal(t, paths[2:], names)
}

func TestSnapshotNamesUniqueWithinSameInstant(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	frozen := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	f.inj.now = func() time.Time { return frozen }

	a, err := f.inj.writeSnapshot([]Chunk{}, ReasonPreEnrichment)
	require.NoError(t, err)
	b, err := f.inj.writeSnapshot([]Chunk{}, ReasonPreRollback)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	names, err := f.inj.versionFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(a), filepath.Base(b)}, names)
}

func TestVersionOrder_CollisionCounterIsNumeric(t *testing.T) {
	f := newFixture(t, Config{MaxVersions: 11})
	frozen := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	f.inj.now = func() time.Time { return frozen }

	var written []string
	for i := 0; i < 12; i++ {
		p, err := f.inj.writeSnapshot([]Chunk{}, ReasonPreEnrichment)
		require.NoError(t, err)
		written = append(written, filepath.Base(p))
	}
	stamp := frozen.Format(versionStamp)
	assert.Equal(t, "kb_"+stamp+"_10.json", written[10])

	// Retention drops the oldest snapshot, not the one named _10.
	names, err := f.inj.versionFiles()
	require.NoError(t, err)
	assert.Equal(t, written[1:], names)

	versions, err := f.inj.ListVersions(f.ctx)
	require.NoError(t, err)
	require.Len(t, versions, 11)
	assert.Equal(t, written[11], versions[0].File)
	assert.Equal(t, written[10], versions[1].File)
	assert.Equal(t, written[1], versions[10].File)
}

func TestVersionLess(t *testing.T) {
	assert.True(t, versionLess("kb_20260501T080000.000000000Z.json", "kb_20260501T080000.000000000Z_1.json"))
	assert.True(t, versionLess("kb_20260501T080000.000000000Z_2.json", "kb_20260501T080000.000000000Z_10.json"))
	assert.True(t, versionLess("kb_20260501T080000.000000000Z_10.json", "kb_20260501T080001.000000000Z.json"))
	assert.False(t, versionLess("kb_20260501T080000.000000000Z_10.json", "kb_20260501T080000.000000000Z_9.json"))
}

func TestProcessApproved_Audit(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.submit(t, "f1", extraction.TypeFeatureRequest, 0.7)
	f.approve(t, "f1")

	res, err := f.inj.ProcessApproved(f.ctx)
	require.NoError(t, err)

	records, err := f.inj.AuditLog()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ActionInject, records[0].Action)
	assert.Equal(t, 1, records[0].Processed)
	assert.Equal(t, []string{"f1"}, records[0].FactIDs)
	assert.Equal(t, res.Backup, records[0].Version)
}

func TestLoadBase_AcceptsBareArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a","type":"faq","title":"t","text":"x"}]`), 0o644))

	base, err := loadBase(path)
	require.NoError(t, err)
	require.Len(t, base.Chunks, 1)
	assert.Equal(t, "a", base.Chunks[0].ID)
	assert.False(t, base.Chunks[0].IsLearned())
}

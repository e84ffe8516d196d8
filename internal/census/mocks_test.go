package census

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/opendatacensus/internal/model"
	"github.com/hitoshi/opendatacensus/internal/refdata"
	"github.com/hitoshi/opendatacensus/internal/repository"
	"github.com/hitoshi/opendatacensus/internal/security"
)

// --- モック定義 ---

type mockSubmissionRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.Submission, error)
	createFn      func(ctx context.Context, s *model.Submission) error
	processFn     func(ctx context.Context, id string, status model.SubmissionStatus, reviewer string, payload model.Payload) (*model.Submission, error)
	listPendingFn func(ctx context.Context, limit int) ([]*model.Submission, error)
	calls         int
}

func (m *mockSubmissionRepo) FindByID(ctx context.Context, id string) (*model.Submission, error) {
	m.calls++
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSubmissionRepo) Create(ctx context.Context, s *model.Submission) error {
	m.calls++
	if m.createFn != nil {
		return m.createFn(ctx, s)
	}
	return nil
}

func (m *mockSubmissionRepo) Process(ctx context.Context, id string, status model.SubmissionStatus, reviewer string, payload model.Payload) (*model.Submission, error) {
	m.calls++
	if m.processFn != nil {
		return m.processFn(ctx, id, status, reviewer, payload)
	}
	return nil, nil
}

func (m *mockSubmissionRepo) ListPending(ctx context.Context, limit int) ([]*model.Submission, error) {
	m.calls++
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit)
	}
	return nil, nil
}

type mockEntryRepo struct {
	findByKeyFn   func(ctx context.Context, key model.EntryKey) (*model.Entry, error)
	listByPlaceFn func(ctx context.Context, place string) ([]*model.Entry, error)
	listByYearFn  func(ctx context.Context, year int) ([]*model.Entry, error)
	findCalls     int
}

func (m *mockEntryRepo) FindByKey(ctx context.Context, key model.EntryKey) (*model.Entry, error) {
	m.findCalls++
	if m.findByKeyFn != nil {
		return m.findByKeyFn(ctx, key)
	}
	return nil, nil
}

func (m *mockEntryRepo) ListByPlace(ctx context.Context, place string) ([]*model.Entry, error) {
	if m.listByPlaceFn != nil {
		return m.listByPlaceFn(ctx, place)
	}
	return nil, nil
}

func (m *mockEntryRepo) ListByYear(ctx context.Context, year int) ([]*model.Entry, error) {
	if m.listByYearFn != nil {
		return m.listByYearFn(ctx, year)
	}
	return nil, nil
}

type mockGate struct {
	reviewers map[string]bool
}

func (m *mockGate) IsReviewer(user *model.User) bool {
	return user != nil && m.reviewers[user.ID]
}

type mockCatalog struct {
	catalog  *refdata.Catalog
	reloadFn func() error
	reloads  int
}

func (m *mockCatalog) Snapshot() *refdata.Catalog { return m.catalog }

func (m *mockCatalog) Reload() error {
	m.reloads++
	if m.reloadFn != nil {
		return m.reloadFn()
	}
	return nil
}

type mockURLValidator struct {
	validateFn func(rawURL string) error
}

func (m *mockURLValidator) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

type mockLinkChecker struct {
	checkFn func(ctx context.Context, p model.Payload) []security.LinkStatus
}

func (m *mockLinkChecker) CheckPayload(ctx context.Context, p model.Payload) []security.LinkStatus {
	if m.checkFn != nil {
		return m.checkFn(ctx, p)
	}
	return nil
}

// --- compile-time interface checks ---
var (
	_ repository.SubmissionRepository = (*mockSubmissionRepo)(nil)
	_ repository.EntryRepository      = (*mockEntryRepo)(nil)
	_ repository.SubmissionRepository = (*memoryBackend)(nil)
	_ repository.EntryRepository      = (*memoryBackend)(nil)
	_ Gate                            = (*mockGate)(nil)
	_ Catalog                         = (*mockCatalog)(nil)
)

// memoryBackend はシナリオテスト用のインメモリバックエンド。
// Processの終端状態ガードとエントリのUPSERTをPostgreSQL実装と同じ規則で行う。
type memoryBackend struct {
	mu          sync.Mutex
	seq         int
	submissions map[string]*model.Submission
	entries     map[model.EntryKey]*model.Entry
	entryReads  int
	entryWrites int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		submissions: make(map[string]*model.Submission),
		entries:     make(map[model.EntryKey]*model.Entry),
	}
}

func (b *memoryBackend) FindByID(_ context.Context, id string) (*model.Submission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.submissions[id]
	if !ok {
		return nil, nil
	}
	c := *s
	c.Payload = s.Payload.Clone()
	return &c, nil
}

func (b *memoryBackend) Create(_ context.Context, s *model.Submission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	s.ID = fmt.Sprintf("sub-%d", b.seq)
	s.Status = model.SubmissionStatusPending
	s.CreatedAt = time.Now()
	c := *s
	c.Payload = s.Payload.Clone()
	b.submissions[s.ID] = &c
	return nil
}

func (b *memoryBackend) Process(_ context.Context, id string, status model.SubmissionStatus, reviewer string, payload model.Payload) (*model.Submission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.submissions[id]
	if !ok {
		return nil, model.NewSubmissionNotFoundError(id)
	}
	if s.Status.IsTerminal() {
		return nil, model.NewSubmissionAlreadyProcessedError(id, s.Status)
	}
	now := time.Now()
	s.Status = status
	s.Reviewer = reviewer
	s.ReviewedAt = &now

	if status == model.SubmissionStatusPublished {
		b.entryWrites++
		b.entries[s.Key()] = &model.Entry{
			Place: s.Place, Dataset: s.Dataset, Year: s.Year,
			Payload: s.Payload.Merge(payload), SubmissionID: id, Reviewer: reviewer, UpdatedAt: now,
		}
	}
	c := *s
	return &c, nil
}

func (b *memoryBackend) ListPending(_ context.Context, limit int) ([]*model.Submission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*model.Submission
	for _, s := range b.submissions {
		if s.Status == model.SubmissionStatusPending && len(out) < limit {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (b *memoryBackend) FindByKey(_ context.Context, key model.EntryKey) (*model.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entryReads++
	e, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (b *memoryBackend) ListByPlace(_ context.Context, place string) ([]*model.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*model.Entry
	for _, e := range b.entries {
		if e.Place == place {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *memoryBackend) ListByYear(_ context.Context, year int) ([]*model.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*model.Entry
	for _, e := range b.entries {
		if e.Year == year {
			out = append(out, e)
		}
	}
	return out, nil
}

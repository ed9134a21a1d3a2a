package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatebot/internal/delivery"
	"gatebot/internal/storage"
	"gatebot/pkg/logx"
)

type fakeStore struct {
	mu         sync.Mutex
	recipients map[int64]storage.Recipient
	tasks      map[int64]storage.Task
	nextTaskID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recipients: map[int64]storage.Recipient{},
		tasks:      map[int64]storage.Task{},
	}
}

func (s *fakeStore) UpsertRecipient(_ context.Context, r storage.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ApprovedAt = nil
	s.recipients[r.ID] = r
	return nil
}

func (s *fakeStore) FindRecipient(_ context.Context, id int64) (storage.Recipient, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	return r, ok, nil
}

func (s *fakeStore) ApproveRecipient(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok || r.Status != storage.StatusPending {
		return false, nil
	}
	r.Status = storage.StatusApproved
	r.ApprovedAt = &at
	s.recipients[id] = r
	return true, nil
}

func (s *fakeStore) EnqueueTask(_ context.Context, t storage.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	t.ID = s.nextTaskID
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeStore) DueTasks(_ context.Context, now time.Time, limit int) ([]storage.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Task
	for _, t := range s.tasks {
		if !t.DueAt.After(now) {
			out = append(out, t)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteTask(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *fakeStore) BumpTaskAttempts(_ context.Context, id int64, nextDue time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Attempts++
	t.DueAt = nextDue
	s.tasks[id] = t
	return nil
}

func (s *fakeStore) taskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *fakeStore) forceDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		t.DueAt = now
		s.tasks[id] = t
	}
}

type fakeSender struct {
	mu         sync.Mutex
	approveErr error
	// approveScript, when set, supplies per-call results and is consumed
	// front to back before approveErr applies.
	approveScript []error
	videoErr      error

	approved []int64
	videos   []int64
}

func (f *fakeSender) SendVideo(_ context.Context, userID int64, _, _ string, _ [][]delivery.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, userID)
	return f.videoErr
}

func (f *fakeSender) CopyMessage(context.Context, int64, int64, int) error { return nil }

func (f *fakeSender) ApproveJoinRequest(_ context.Context, _, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.approveScript) > 0 {
		err := f.approveScript[0]
		f.approveScript = f.approveScript[1:]
		if err != nil {
			return err
		}
		f.approved = append(f.approved, userID)
		return nil
	}
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approved = append(f.approved, userID)
	return nil
}

func (f *fakeSender) approveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.approved)
}

func newWorkflow(store Store, sender delivery.Sender, cfg Config) *Workflow {
	return New(cfg, store, sender, logx.Nop())
}

func TestJoinRequestRecordsPendingRecipient(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	wf := newWorkflow(store, sender, Config{ApproveOnRequest: false})

	ctx := context.Background()
	user := User{ID: 42, FirstName: "Alice", Username: "alice"}
	if err := wf.OnJoinRequest(ctx, user, -100); err != nil {
		t.Fatalf("OnJoinRequest: %v", err)
	}

	r, ok, _ := store.FindRecipient(ctx, 42)
	if !ok {
		t.Fatal("recipient not recorded")
	}
	if r.Status != storage.StatusPending {
		t.Fatalf("status = %q, want pending", r.Status)
	}
	if r.ApprovedAt != nil {
		t.Fatal("fresh recipient must not have approved_at")
	}
	if got := store.taskCount(); got != 2 {
		t.Fatalf("expected 2 deferred tasks, got %d", got)
	}

	// A repeat request must not create a second row.
	if err := wf.OnJoinRequest(ctx, user, -100); err != nil {
		t.Fatalf("repeat OnJoinRequest: %v", err)
	}
	store.mu.Lock()
	rows := len(store.recipients)
	store.mu.Unlock()
	if rows != 1 {
		t.Fatalf("expected 1 row after repeat request, got %d", rows)
	}
}

func TestFinalizeApprovalIdempotent(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	wf := newWorkflow(store, sender, Config{ApproveOnRequest: false})
	ctx := context.Background()

	if err := wf.OnJoinRequest(ctx, User{ID: 7, FirstName: "Bob"}, -100); err != nil {
		t.Fatalf("OnJoinRequest: %v", err)
	}

	if err := wf.FinalizeApproval(ctx, 7, -100); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	r, _, _ := store.FindRecipient(ctx, 7)
	if r.Status != storage.StatusApproved || r.ApprovedAt == nil {
		t.Fatalf("not approved after finalize: %+v", r)
	}
	first := *r.ApprovedAt

	// Duplicate timer firing: must be a no-op.
	if err := wf.FinalizeApproval(ctx, 7, -100); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	r, _, _ = store.FindRecipient(ctx, 7)
	if !r.ApprovedAt.Equal(first) {
		t.Fatalf("approved_at changed on duplicate finalize: %v -> %v", first, r.ApprovedAt)
	}
	if got := sender.approveCount(); got != 1 {
		t.Fatalf("platform approve called %d times, want 1", got)
	}
}

func TestFinalizeApprovalMissingRecipientIsNoop(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	wf := newWorkflow(store, sender, Config{})

	if err := wf.FinalizeApproval(context.Background(), 999, -100); err != nil {
		t.Fatalf("finalize on missing recipient: %v", err)
	}
	if sender.approveCount() != 0 {
		t.Fatal("platform approve must not fire for missing recipients")
	}
}

func TestWelcomeFailureDoesNotBlockFinalize(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{videoErr: delivery.Unreachable(errors.New("blocked"))}
	wf := newWorkflow(store, sender, Config{ApproveOnRequest: false})
	ctx := context.Background()

	if err := wf.OnJoinRequest(ctx, User{ID: 5, FirstName: "Eve"}, -100); err != nil {
		t.Fatalf("OnJoinRequest: %v", err)
	}

	wf.SendWelcome(ctx, 5) // swallows the unreachable failure

	if err := wf.FinalizeApproval(ctx, 5, -100); err != nil {
		t.Fatalf("finalize after failed welcome: %v", err)
	}
	r, _, _ := store.FindRecipient(ctx, 5)
	if r.Status != storage.StatusApproved {
		t.Fatalf("status = %q, want approved", r.Status)
	}
}

func TestPreApprovedUserStillFinalizes(t *testing.T) {
	// With immediate pre-approval on (the default), the join request is
	// consumed at request time; the deferred approve gets an already-handled
	// rejection from the platform. The row must still flip to approved.
	store := newFakeStore()
	sender := &fakeSender{approveScript: []error{
		nil, // pre-approval consumes the join request
		delivery.AlreadyHandled(errors.New("Bad Request: HIDE_REQUESTER_MISSING")),
	}}
	wf := newWorkflow(store, sender, Config{
		WelcomeDelay:     time.Millisecond,
		ApproveDelay:     time.Millisecond,
		ApproveOnRequest: true,
	})
	p := NewPoller(wf, store, time.Second, logx.Nop())
	ctx := context.Background()

	if err := wf.OnJoinRequest(ctx, User{ID: 11, FirstName: "Mia"}, -100); err != nil {
		t.Fatalf("OnJoinRequest: %v", err)
	}
	if got := sender.approveCount(); got != 1 {
		t.Fatalf("pre-approval calls = %d, want 1", got)
	}
	time.Sleep(5 * time.Millisecond)

	p.tick(ctx)

	if got := store.taskCount(); got != 0 {
		t.Fatalf("expected all tasks drained, %d left", got)
	}
	r, _, _ := store.FindRecipient(ctx, 11)
	if r.Status != storage.StatusApproved || r.ApprovedAt == nil {
		t.Fatalf("pre-approved funnel never finalized: %+v", r)
	}
}

func TestPollerDrainsDueTasks(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	wf := newWorkflow(store, sender, Config{
		WelcomeDelay:     time.Millisecond,
		ApproveDelay:     time.Millisecond,
		ApproveOnRequest: false,
	})
	p := NewPoller(wf, store, time.Second, logx.Nop())
	ctx := context.Background()

	if err := wf.OnJoinRequest(ctx, User{ID: 9, FirstName: "Zoe"}, -100); err != nil {
		t.Fatalf("OnJoinRequest: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	p.tick(ctx)

	if got := store.taskCount(); got != 0 {
		t.Fatalf("expected all tasks drained, %d left", got)
	}
	r, _, _ := store.FindRecipient(ctx, 9)
	if r.Status != storage.StatusApproved {
		t.Fatalf("status = %q, want approved after poll", r.Status)
	}
	sender.mu.Lock()
	videos := len(sender.videos)
	sender.mu.Unlock()
	if videos != 1 {
		t.Fatalf("welcome sent %d times, want 1", videos)
	}
}

func TestPollerAbandonsAfterMaxAttempts(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{approveErr: errors.New("telegram is down")}
	wf := newWorkflow(store, sender, Config{
		WelcomeDelay:     time.Millisecond,
		ApproveDelay:     time.Millisecond,
		MaxAttempts:      2,
		ApproveOnRequest: false,
	})
	p := NewPoller(wf, store, time.Second, logx.Nop())
	ctx := context.Background()

	if err := wf.OnJoinRequest(ctx, User{ID: 3}, -100); err != nil {
		t.Fatalf("OnJoinRequest: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	p.tick(ctx) // welcome drains; approve fails, attempt 1, rescheduled
	if got := store.taskCount(); got != 1 {
		t.Fatalf("expected approve task rescheduled, %d tasks left", got)
	}

	store.forceDue(time.Now().Add(-time.Second))
	p.tick(ctx) // attempt 2 of 2: abandoned

	if got := store.taskCount(); got != 0 {
		t.Fatalf("expected approve task abandoned, %d tasks left", got)
	}
	r, _, _ := store.FindRecipient(ctx, 3)
	if r.Status != storage.StatusPending {
		t.Fatalf("status = %q, want pending after abandoned approval", r.Status)
	}
}

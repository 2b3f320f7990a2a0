package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"echo-backend/internal/models"
	"echo-backend/internal/repository"
)

// fakeCheckinStore is an in-memory CheckinStore whose conditional updates
// are atomic under a mutex, mirroring the row-level compare-and-swap the
// Postgres layer provides.
type fakeCheckinStore struct {
	mu        sync.Mutex
	checkins  map[string]*models.CheckIn
	notified  map[string]bool
	responses map[string]map[string]models.CheckInResponse
	configs   map[string]*models.CheckInConfig
}

func newFakeCheckinStore() *fakeCheckinStore {
	return &fakeCheckinStore{
		checkins:  make(map[string]*models.CheckIn),
		notified:  make(map[string]bool),
		responses: make(map[string]map[string]models.CheckInResponse),
		configs:   make(map[string]*models.CheckInConfig),
	}
}

func (f *fakeCheckinStore) copyOf(c *models.CheckIn) *models.CheckIn {
	out := *c
	if c.AITopic != nil {
		topic := *c.AITopic
		topic.TimerNotified = f.notified[c.ID]
		out.AITopic = &topic
	}
	if c.TimerStartedAt != nil {
		at := *c.TimerStartedAt
		out.TimerStartedAt = &at
	}
	return &out
}

func (f *fakeCheckinStore) CreateCheckin(_ context.Context, checkin *models.CheckIn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.checkins {
		if c.FamilyID == checkin.FamilyID && c.WeekStartDate == checkin.WeekStartDate {
			return repository.ErrDuplicate
		}
	}
	stored := *checkin
	f.checkins[checkin.ID] = &stored
	return nil
}

func (f *fakeCheckinStore) GetCheckinByID(_ context.Context, id string) (*models.CheckIn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkins[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.copyOf(c), nil
}

func (f *fakeCheckinStore) GetCheckinByWeek(_ context.Context, familyID, weekStart string) (*models.CheckIn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.checkins {
		if c.FamilyID == familyID && c.WeekStartDate == weekStart {
			return f.copyOf(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCheckinStore) AcquireProcessing(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkins[id]
	if !ok || c.Status != models.CheckInPending {
		return false, nil
	}
	c.Status = models.CheckInProcessing
	return true, nil
}

func (f *fakeCheckinStore) CompleteWithTopic(_ context.Context, id string, topic models.AITopic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkins[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = models.CheckInCompleted
	c.AITopic = &models.AITopic{Title: topic.Title, Description: topic.Description}
	f.notified[id] = false
	return nil
}

func (f *fakeCheckinStore) SetTimerStartedAt(_ context.Context, id string, at *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkins[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.TimerStartedAt = at
	return nil
}

func (f *fakeCheckinStore) ClaimTimerNotified(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkins[id]
	if !ok || c.Status != models.CheckInCompleted || f.notified[id] {
		return false, nil
	}
	f.notified[id] = true
	return true, nil
}

func (f *fakeCheckinStore) DeleteCheckin(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.checkins, id)
	delete(f.responses, id)
	delete(f.notified, id)
	return nil
}

func (f *fakeCheckinStore) UpsertResponse(_ context.Context, response *models.CheckInResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responses[response.CheckinID] == nil {
		f.responses[response.CheckinID] = make(map[string]models.CheckInResponse)
	}
	f.responses[response.CheckinID][response.UserID] = *response
	return nil
}

func (f *fakeCheckinStore) CountResponses(_ context.Context, checkinID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.responses[checkinID]), nil
}

func (f *fakeCheckinStore) ListResponses(_ context.Context, checkinID string) ([]models.CheckInResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CheckInResponse
	for _, r := range f.responses[checkinID] {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeCheckinStore) HasResponded(_ context.Context, checkinID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.responses[checkinID][userID]
	return ok, nil
}

func (f *fakeCheckinStore) GetConfig(_ context.Context, familyID string) (*models.CheckInConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[familyID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *cfg
	return &out, nil
}

func (f *fakeCheckinStore) UpsertConfig(_ context.Context, cfg *models.CheckInConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *cfg
	f.configs[cfg.FamilyID] = &stored
	return nil
}

// fakeNotifier records dispatched notifications
type fakeNotifier struct {
	mu     sync.Mutex
	family []string // titles of family broadcasts
	user   []string
}

func (f *fakeNotifier) NotifyUser(_ context.Context, _, title, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = append(f.user, title)
	return 1, nil
}

func (f *fakeNotifier) NotifyFamily(_ context.Context, _, title, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.family = append(f.family, title)
	return 2, nil
}

func (f *fakeNotifier) NotifyPartner(_ context.Context, _, _, title, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = append(f.user, title)
	return 1, nil
}

func (f *fakeNotifier) familyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.family)
}

// fakeGenerator counts invocations and optionally fails
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeGenerator) Generate(_ context.Context, a, b PartnerMood) (models.AITopic, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return models.AITopic{}, &GenerationError{Reason: "request failed", Err: errors.New("boom")}
	}
	return models.AITopic{
		Title:       "Generated Topic",
		Description: fmt.Sprintf("For %s and %s", a.Name, b.Name),
	}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeProfiles returns a fixed member list
type fakeProfiles struct {
	profiles []models.Profile
}

func (f *fakeProfiles) ListByFamily(_ context.Context, _ string) ([]models.Profile, error) {
	return f.profiles, nil
}

const testFamilyID = "family-1"

func newTestService(store *fakeCheckinStore, gen *fakeGenerator, notifier *fakeNotifier) *CheckInService {
	profiles := &fakeProfiles{profiles: []models.Profile{
		{ID: "user-a", DisplayName: "Alex"},
		{ID: "user-b", DisplayName: "Blair"},
	}}
	return NewCheckInService(store, profiles, gen, notifier, nil)
}

func seedCheckin(store *fakeCheckinStore, status string) *models.CheckIn {
	checkin := &models.CheckIn{
		ID:            "checkin-1",
		FamilyID:      testFamilyID,
		WeekStartDate: "2026-03-02",
		Status:        status,
		CreatedAt:     time.Now(),
	}
	store.checkins[checkin.ID] = checkin
	return checkin
}

func TestWeekStartDate(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		expected string
	}{
		{
			name:     "monday maps to itself",
			now:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			expected: "2026-03-02",
		},
		{
			name:     "wednesday maps back to monday",
			now:      time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC),
			expected: "2026-03-02",
		},
		{
			name:     "sunday maps back to previous monday",
			now:      time.Date(2026, 3, 8, 0, 1, 0, 0, time.UTC),
			expected: "2026-03-02",
		},
		{
			name:     "month boundary",
			now:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
			expected: "2026-03-30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeekStartDate(tt.now); got != tt.expected {
				t.Errorf("WeekStartDate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestWithinTriggerWindow(t *testing.T) {
	cfg := &models.CheckInConfig{FamilyID: testFamilyID, DayOfWeek: 1, TimeUTC: "19:00"}

	tests := []struct {
		name     string
		now      time.Time
		expected bool
	}{
		{
			name:     "before scheduled time",
			now:      time.Date(2026, 3, 2, 18, 59, 0, 0, time.UTC),
			expected: false,
		},
		{
			name:     "exactly on time",
			now:      time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC),
			expected: true,
		},
		{
			name:     "at end of grace period",
			now:      time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
			expected: true,
		},
		{
			name:     "past grace period",
			now:      time.Date(2026, 3, 2, 21, 1, 0, 0, time.UTC),
			expected: false,
		},
		{
			name:     "wrong day",
			now:      time.Date(2026, 3, 3, 19, 30, 0, 0, time.UTC),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withinTriggerWindow(cfg, tt.now); got != tt.expected {
				t.Errorf("withinTriggerWindow() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEnsureWeeklyCheckIn_NotTimeYet(t *testing.T) {
	store := newFakeCheckinStore()
	store.configs[testFamilyID] = &models.CheckInConfig{FamilyID: testFamilyID, DayOfWeek: 1, TimeUTC: "19:00"}
	svc := newTestService(store, &fakeGenerator{}, &fakeNotifier{})

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	checkin, err := svc.EnsureWeeklyCheckIn(context.Background(), testFamilyID, now)
	if err != nil {
		t.Fatalf("EnsureWeeklyCheckIn() failed: %v", err)
	}
	if checkin != nil {
		t.Errorf("expected no checkin before the trigger window, got %+v", checkin)
	}
}

func TestEnsureWeeklyCheckIn_NoConfig(t *testing.T) {
	store := newFakeCheckinStore()
	svc := newTestService(store, &fakeGenerator{}, &fakeNotifier{})

	checkin, err := svc.EnsureWeeklyCheckIn(context.Background(), testFamilyID, time.Date(2026, 3, 2, 19, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EnsureWeeklyCheckIn() failed: %v", err)
	}
	if checkin != nil {
		t.Errorf("expected no checkin without a schedule, got %+v", checkin)
	}
}

func TestEnsureWeeklyCheckIn_ConcurrentCreation(t *testing.T) {
	store := newFakeCheckinStore()
	store.configs[testFamilyID] = &models.CheckInConfig{FamilyID: testFamilyID, DayOfWeek: 1, TimeUTC: "19:00"}
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakeGenerator{}, notifier)

	now := time.Date(2026, 3, 2, 19, 5, 0, 0, time.UTC)

	const devices = 8
	results := make([]*models.CheckIn, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			checkin, err := svc.EnsureWeeklyCheckIn(context.Background(), testFamilyID, now)
			if err != nil {
				t.Errorf("EnsureWeeklyCheckIn() failed: %v", err)
				return
			}
			results[i] = checkin
		}(i)
	}
	wg.Wait()

	if len(store.checkins) != 1 {
		t.Fatalf("expected exactly 1 checkin row, got %d", len(store.checkins))
	}
	var canonical string
	for id := range store.checkins {
		canonical = id
	}
	for i, checkin := range results {
		if checkin == nil {
			t.Fatalf("device %d got nil checkin", i)
		}
		if checkin.ID != canonical {
			t.Errorf("device %d got checkin %s, want %s", i, checkin.ID, canonical)
		}
		if checkin.Status != models.CheckInPending {
			t.Errorf("device %d got status %s, want pending", i, checkin.Status)
		}
	}
	if notifier.familyCount() != 1 {
		t.Errorf("expected 1 creation notification, got %d", notifier.familyCount())
	}
}

func TestSubmitResponse_InvalidTemperature(t *testing.T) {
	store := newFakeCheckinStore()
	seedCheckin(store, models.CheckInPending)
	svc := newTestService(store, &fakeGenerator{}, &fakeNotifier{})

	for _, temp := range []int{0, 11, -3} {
		if err := svc.SubmitResponse(context.Background(), "checkin-1", "user-a", temp, ""); !errors.Is(err, ErrInvalidTemperature) {
			t.Errorf("SubmitResponse(temp=%d) = %v, want ErrInvalidTemperature", temp, err)
		}
	}
	if len(store.responses["checkin-1"]) != 0 {
		t.Errorf("invalid submissions must not be recorded")
	}
}

func TestSubmitResponse_IdempotentResubmission(t *testing.T) {
	store := newFakeCheckinStore()
	seedCheckin(store, models.CheckInPending)
	gen := &fakeGenerator{}
	svc := newTestService(store, gen, &fakeNotifier{})

	if err := svc.SubmitResponse(context.Background(), "checkin-1", "user-a", 4, "long week"); err != nil {
		t.Fatalf("SubmitResponse() failed: %v", err)
	}
	if err := svc.SubmitResponse(context.Background(), "checkin-1", "user-a", 8, "better now"); err != nil {
		t.Fatalf("SubmitResponse() failed: %v", err)
	}

	if len(store.responses["checkin-1"]) != 1 {
		t.Fatalf("expected 1 response row, got %d", len(store.responses["checkin-1"]))
	}
	resp := store.responses["checkin-1"]["user-a"]
	if resp.Temperature != 8 || resp.Notes != "better now" {
		t.Errorf("resubmission must keep latest values, got %+v", resp)
	}
	if gen.callCount() != 0 {
		t.Errorf("generation must not run with a single responder")
	}
	checkin, _ := store.GetCheckinByID(context.Background(), "checkin-1")
	if checkin.Status != models.CheckInPending {
		t.Errorf("status = %s, want pending", checkin.Status)
	}
}

func TestSubmitResponse_SecondResponseCompletes(t *testing.T) {
	store := newFakeCheckinStore()
	seedCheckin(store, models.CheckInPending)
	gen := &fakeGenerator{}
	svc := newTestService(store, gen, &fakeNotifier{})

	ctx := context.Background()
	if err := svc.SubmitResponse(ctx, "checkin-1", "user-a", 6, "ok"); err != nil {
		t.Fatalf("SubmitResponse() failed: %v", err)
	}
	if err := svc.SubmitResponse(ctx, "checkin-1", "user-b", 3, "tired"); err != nil {
		t.Fatalf("SubmitResponse() failed: %v", err)
	}

	checkin, _ := store.GetCheckinByID(ctx, "checkin-1")
	if checkin.Status != models.CheckInCompleted {
		t.Fatalf("status = %s, want completed", checkin.Status)
	}
	if checkin.AITopic == nil || checkin.AITopic.Title != "Generated Topic" {
		t.Errorf("expected generated topic, got %+v", checkin.AITopic)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator invoked %d times, want 1", gen.callCount())
	}
}

// Both partners' devices count responses=2 before either flips the
// status: only one processing transition may succeed and generation must
// run exactly once.
func TestSubmitResponse_ConcurrentCompletionRace(t *testing.T) {
	store := newFakeCheckinStore()
	seedCheckin(store, models.CheckInPending)
	gen := &fakeGenerator{}
	svc := newTestService(store, gen, &fakeNotifier{})

	ctx := context.Background()
	const attempts = 10
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "user-a"
			if i%2 == 0 {
				user = "user-b"
			}
			if err := svc.SubmitResponse(ctx, "checkin-1", user, 5, "notes"); err != nil {
				t.Errorf("SubmitResponse() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if gen.callCount() != 1 {
		t.Errorf("generator invoked %d times, want exactly 1", gen.callCount())
	}
	checkin, _ := store.GetCheckinByID(ctx, "checkin-1")
	if checkin.Status != models.CheckInCompleted {
		t.Errorf("status = %s, want completed", checkin.Status)
	}
	if len(store.responses["checkin-1"]) != 2 {
		t.Errorf("expected 2 response rows, got %d", len(store.responses["checkin-1"]))
	}
}

func TestGenerate_FallbackOnFailure(t *testing.T) {
	store := newFakeCheckinStore()
	seedCheckin(store, models.CheckInPending)
	gen := &fakeGenerator{fail: true}
	svc := newTestService(store, gen, &fakeNotifier{})

	ctx := context.Background()
	if err := svc.SubmitResponse(ctx, "checkin-1", "user-a", 6, ""); err != nil {
		t.Fatalf("SubmitResponse() failed: %v", err)
	}
	if err := svc.SubmitResponse(ctx, "checkin-1", "user-b", 3, ""); err != nil {
		t.Fatalf("SubmitResponse() failed: %v", err)
	}

	checkin, _ := store.GetCheckinByID(ctx, "checkin-1")
	if checkin.Status != models.CheckInCompleted {
		t.Fatalf("status = %s, want completed even when generation fails", checkin.Status)
	}
	if checkin.AITopic == nil || checkin.AITopic.Title != fallbackTopicTitle {
		t.Errorf("expected fallback topic, got %+v", checkin.AITopic)
	}
}

func TestReconcile_CompletesStuckCheckin(t *testing.T) {
	store := newFakeCheckinStore()
	seedCheckin(store, models.CheckInPending)
	gen := &fakeGenerator{}
	svc := newTestService(store, gen, &fakeNotifier{})

	ctx := context.Background()
	// Both responses exist but the original lock holder never completed
	store.responses["checkin-1"] = map[string]models.CheckInResponse{
		"user-a": {CheckinID: "checkin-1", UserID: "user-a", Temperature: 5},
		"user-b": {CheckinID: "checkin-1", UserID: "user-b", Temperature: 7},
	}

	if err := svc.Reconcile(ctx, "checkin-1"); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	checkin, _ := store.GetCheckinByID(ctx, "checkin-1")
	if checkin.Status != models.CheckInCompleted {
		t.Fatalf("status = %s, want completed", checkin.Status)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator invoked %d times, want 1", gen.callCount())
	}

	// Redundant reconcile is a no-op
	if err := svc.Reconcile(ctx, "checkin-1"); err != nil {
		t.Fatalf("redundant Reconcile() failed: %v", err)
	}
	if gen.callCount() != 1 {
		t.Errorf("redundant reconcile must not regenerate, got %d calls", gen.callCount())
	}
}

func TestReconcile_SingleResponderIsNoop(t *testing.T) {
	store := newFakeCheckinStore()
	seedCheckin(store, models.CheckInPending)
	gen := &fakeGenerator{}
	svc := newTestService(store, gen, &fakeNotifier{})

	store.responses["checkin-1"] = map[string]models.CheckInResponse{
		"user-a": {CheckinID: "checkin-1", UserID: "user-a", Temperature: 5},
	}

	if err := svc.Reconcile(context.Background(), "checkin-1"); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	checkin, _ := store.GetCheckinByID(context.Background(), "checkin-1")
	if checkin.Status != models.CheckInPending {
		t.Errorf("status = %s, want pending", checkin.Status)
	}
	if gen.callCount() != 0 {
		t.Errorf("generator must not run with one response")
	}
}

func TestResetWeek_ClearsEverything(t *testing.T) {
	store := newFakeCheckinStore()
	store.configs[testFamilyID] = &models.CheckInConfig{FamilyID: testFamilyID, DayOfWeek: 1, TimeUTC: "19:00"}
	checkin := seedCheckin(store, models.CheckInCompleted)
	store.responses[checkin.ID] = map[string]models.CheckInResponse{
		"user-a": {CheckinID: checkin.ID, UserID: "user-a", Temperature: 5},
		"user-b": {CheckinID: checkin.ID, UserID: "user-b", Temperature: 7},
	}
	svc := newTestService(store, &fakeGenerator{}, &fakeNotifier{})

	ctx := context.Background()
	if err := svc.ResetWeek(ctx, checkin.ID); err != nil {
		t.Fatalf("ResetWeek() failed: %v", err)
	}
	if len(store.checkins) != 0 || len(store.responses[checkin.ID]) != 0 {
		t.Fatalf("reset must delete the checkin and its responses")
	}

	// The next poll inside the window creates a fresh pending record
	now := time.Date(2026, 3, 2, 19, 30, 0, 0, time.UTC)
	fresh, err := svc.EnsureWeeklyCheckIn(ctx, testFamilyID, now)
	if err != nil {
		t.Fatalf("EnsureWeeklyCheckIn() failed: %v", err)
	}
	if fresh == nil || fresh.Status != models.CheckInPending {
		t.Fatalf("expected fresh pending checkin, got %+v", fresh)
	}
	if fresh.ID == checkin.ID {
		t.Errorf("fresh checkin must be a new record")
	}
}

func TestRemainingTime(t *testing.T) {
	start := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	checkin := &models.CheckIn{TimerStartedAt: &start}

	tests := []struct {
		name     string
		at       time.Time
		expected time.Duration
	}{
		{
			name:     "mid countdown",
			at:       start.Add(500 * time.Second),
			expected: 400 * time.Second,
		},
		{
			name:     "past the end",
			at:       start.Add(901 * time.Second),
			expected: 0,
		},
		{
			name:     "exactly at the end",
			at:       start.Add(15 * time.Minute),
			expected: 0,
		},
		{
			name:     "at start",
			at:       start,
			expected: 15 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemainingTime(checkin, tt.at); got != tt.expected {
				t.Errorf("RemainingTime() = %v, want %v", got, tt.expected)
			}
		})
	}

	if got := RemainingTime(&models.CheckIn{}, start); got != 0 {
		t.Errorf("RemainingTime() with no timer = %v, want 0", got)
	}
}

func TestStartAndResetTimer(t *testing.T) {
	store := newFakeCheckinStore()
	checkin := seedCheckin(store, models.CheckInCompleted)
	checkin.AITopic = &models.AITopic{Title: "T", Description: "D"}
	svc := newTestService(store, &fakeGenerator{}, &fakeNotifier{})

	ctx := context.Background()
	if err := svc.StartTimer(ctx, checkin.ID); err != nil {
		t.Fatalf("StartTimer() failed: %v", err)
	}
	got, _ := store.GetCheckinByID(ctx, checkin.ID)
	if got.TimerStartedAt == nil {
		t.Fatalf("timer_started_at not set")
	}

	if err := svc.ResetTimer(ctx, checkin.ID); err != nil {
		t.Fatalf("ResetTimer() failed: %v", err)
	}
	got, _ = store.GetCheckinByID(ctx, checkin.ID)
	if got.TimerStartedAt != nil {
		t.Fatalf("timer_started_at not cleared")
	}
}

func TestClaimTimerFinished_ConcurrentClaims(t *testing.T) {
	store := newFakeCheckinStore()
	checkin := seedCheckin(store, models.CheckInCompleted)
	checkin.AITopic = &models.AITopic{Title: "T", Description: "D"}
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakeGenerator{}, notifier)

	ctx := context.Background()
	const devices = 8
	wins := make([]bool, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := svc.ClaimTimerFinished(ctx, checkin.ID)
			if err != nil {
				t.Errorf("ClaimTimerFinished() failed: %v", err)
				return
			}
			wins[i] = won
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 winner, got %d", winners)
	}
	if notifier.familyCount() != 1 {
		t.Errorf("expected exactly 1 completion notification, got %d", notifier.familyCount())
	}

	// A later claim sees the flag and aborts without touching the store
	won, err := svc.ClaimTimerFinished(ctx, checkin.ID)
	if err != nil {
		t.Fatalf("ClaimTimerFinished() failed: %v", err)
	}
	if won {
		t.Errorf("claim after notification must lose")
	}
	if notifier.familyCount() != 1 {
		t.Errorf("no second notification may fire")
	}
}

// Regenerating the topic opens a fresh notification epoch: the flag is
// cleared with the new topic, so the next countdown can notify once more.
func TestClaimTimerFinished_RegenerateOpensNewEpoch(t *testing.T) {
	store := newFakeCheckinStore()
	checkin := seedCheckin(store, models.CheckInCompleted)
	checkin.AITopic = &models.AITopic{Title: "T", Description: "D"}
	store.responses[checkin.ID] = map[string]models.CheckInResponse{
		"user-a": {CheckinID: checkin.ID, UserID: "user-a", Temperature: 5},
		"user-b": {CheckinID: checkin.ID, UserID: "user-b", Temperature: 7},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakeGenerator{}, notifier)

	ctx := context.Background()
	won, err := svc.ClaimTimerFinished(ctx, checkin.ID)
	if err != nil {
		t.Fatalf("ClaimTimerFinished() failed: %v", err)
	}
	if !won {
		t.Fatalf("first claim must win")
	}
	if won, _ := svc.ClaimTimerFinished(ctx, checkin.ID); won {
		t.Fatalf("repeat claim in the same epoch must lose")
	}

	if err := svc.RegenerateTopic(ctx, checkin.ID); err != nil {
		t.Fatalf("RegenerateTopic() failed: %v", err)
	}
	got, _ := store.GetCheckinByID(ctx, checkin.ID)
	if got.AITopic == nil || got.AITopic.TimerNotified {
		t.Fatalf("regeneration must clear the notified flag, got %+v", got.AITopic)
	}

	won, err = svc.ClaimTimerFinished(ctx, checkin.ID)
	if err != nil {
		t.Fatalf("ClaimTimerFinished() failed: %v", err)
	}
	if !won {
		t.Errorf("claim after regeneration must win the new epoch")
	}
	if notifier.familyCount() != 2 {
		t.Errorf("expected one notification per epoch, got %d", notifier.familyCount())
	}
}

func TestClaimTimerFinished_RequiresCompletedStatus(t *testing.T) {
	store := newFakeCheckinStore()
	seedCheckin(store, models.CheckInPending)
	notifier := &fakeNotifier{}
	svc := newTestService(store, &fakeGenerator{}, notifier)

	won, err := svc.ClaimTimerFinished(context.Background(), "checkin-1")
	if err != nil {
		t.Fatalf("ClaimTimerFinished() failed: %v", err)
	}
	if won {
		t.Errorf("claim on a pending checkin must lose")
	}
	if notifier.familyCount() != 0 {
		t.Errorf("no notification may fire for a pending checkin")
	}
}

func TestRegenerateTopic_OverwritesTopic(t *testing.T) {
	store := newFakeCheckinStore()
	checkin := seedCheckin(store, models.CheckInCompleted)
	checkin.AITopic = &models.AITopic{Title: "Old", Description: "Old"}
	store.responses[checkin.ID] = map[string]models.CheckInResponse{
		"user-a": {CheckinID: checkin.ID, UserID: "user-a", Temperature: 5},
		"user-b": {CheckinID: checkin.ID, UserID: "user-b", Temperature: 7},
	}
	gen := &fakeGenerator{}
	svc := newTestService(store, gen, &fakeNotifier{})

	if err := svc.RegenerateTopic(context.Background(), checkin.ID); err != nil {
		t.Fatalf("RegenerateTopic() failed: %v", err)
	}
	got, _ := store.GetCheckinByID(context.Background(), checkin.ID)
	if got.AITopic == nil || got.AITopic.Title != "Generated Topic" {
		t.Errorf("expected regenerated topic, got %+v", got.AITopic)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator invoked %d times, want 1", gen.callCount())
	}
}

func TestUpdateConfig_Validation(t *testing.T) {
	store := newFakeCheckinStore()
	svc := newTestService(store, &fakeGenerator{}, &fakeNotifier{})

	ctx := context.Background()
	if err := svc.UpdateConfig(ctx, &models.CheckInConfig{FamilyID: testFamilyID, DayOfWeek: 7, TimeUTC: "19:00"}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("day_of_week 7: got %v, want ErrInvalidSchedule", err)
	}
	if err := svc.UpdateConfig(ctx, &models.CheckInConfig{FamilyID: testFamilyID, DayOfWeek: 1, TimeUTC: "25:99"}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("invalid time: got %v, want ErrInvalidSchedule", err)
	}
	if err := svc.UpdateConfig(ctx, &models.CheckInConfig{FamilyID: testFamilyID, DayOfWeek: 1, TimeUTC: "19:00"}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	if store.configs[testFamilyID] == nil {
		t.Errorf("config not stored")
	}
}

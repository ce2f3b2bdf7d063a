package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
	"github.com/Oversight-Labs/sentra/core/pkg/ruleengine"
	"github.com/Oversight-Labs/sentra/core/pkg/util/resiliency"
	"github.com/Oversight-Labs/sentra/core/pkg/workflow"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubCatalog struct {
	entries map[string]*contracts.RequestedAccess
}

func (s *stubCatalog) Lookup(_ context.Context, id string) (*contracts.RequestedAccess, error) {
	if e, ok := s.entries[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, faults.New(faults.NotFound, "no catalog entry %s", id)
}

type stubSource struct {
	snapshots    map[string]*contracts.UserAccess
	firefighters map[string]*contracts.FirefighterStatus
}

func (s *stubSource) UsersInScope(_ context.Context, _ contracts.ScopeFilter) ([]string, error) {
	return nil, nil
}
func (s *stubSource) EntitlementsOf(_ context.Context, userID string) ([]contracts.Entitlement, error) {
	if snap := s.snapshots[userID]; snap != nil {
		return snap.Entitlements, nil
	}
	return nil, nil
}
func (s *stubSource) RolesOf(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (s *stubSource) UserAccessOf(_ context.Context, userID string) (*contracts.UserAccess, error) {
	if snap := s.snapshots[userID]; snap != nil {
		return snap, nil
	}
	return &contracts.UserAccess{UserID: userID}, nil
}
func (s *stubSource) CheckFirefighterAvailability(_ context.Context, ffID string) (*contracts.FirefighterStatus, error) {
	if st, ok := s.firefighters[ffID]; ok {
		return st, nil
	}
	return &contracts.FirefighterStatus{FirefighterID: ffID, Available: true}, nil
}

type stubResolver struct {
	managers map[string]string
	pools    map[contracts.ApproverType][]string
}

func (r *stubResolver) ManagerOf(_ context.Context, userID string) (string, error) {
	return r.managers[userID], nil
}
func (r *stubResolver) EmailOf(_ context.Context, u string) (string, error) { return u, nil }
func (r *stubResolver) NameOf(_ context.Context, u string) (string, error)  { return u, nil }
func (r *stubResolver) RoleOwnerOf(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}
func (r *stubResolver) DataOwnerOf(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (r *stubResolver) CostCenterOwnerOf(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}
func (r *stubResolver) UsersWithFunction(_ context.Context, fn contracts.ApproverType) ([]string, error) {
	return r.pools[fn], nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Notify(_ context.Context, recipient, _, _ string) error {
	n.mu.Lock()
	n.sent = append(n.sent, recipient)
	n.mu.Unlock()
	return nil
}

type stubProvisioner struct {
	mu         sync.Mutex
	provisions int
	revokes    int
	fail       *contracts.ProvisionResult
	transient  int
}

func (p *stubProvisioner) Provision(_ context.Context, _ string, _ []contracts.RequestedAccess) (*contracts.ProvisionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisions++
	if p.transient > 0 {
		p.transient--
		return &contracts.ProvisionResult{OK: false, Error: "temporarily unavailable"}, nil
	}
	if p.fail != nil {
		return p.fail, nil
	}
	return &contracts.ProvisionResult{OK: true}, nil
}

func (p *stubProvisioner) Revoke(_ context.Context, _ string) (*contracts.ProvisionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokes++
	return &contracts.ProvisionResult{OK: true}, nil
}

type memPersistence struct {
	mu     sync.Mutex
	events []contracts.GovernanceEvent
	saves  int
}

func (m *memPersistence) RecordEvent(_ context.Context, ev *contracts.GovernanceEvent) error {
	m.mu.Lock()
	m.events = append(m.events, *ev)
	m.mu.Unlock()
	return nil
}
func (m *memPersistence) SaveRequest(_ context.Context, _ *contracts.AccessRequest) error {
	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	return nil
}
func (m *memPersistence) SaveCampaign(_ context.Context, _ *contracts.CertificationCampaign) error {
	return nil
}

func (m *memPersistence) eventTypes() []contracts.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]contracts.EventType, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	coord       *Coordinator
	clock       *testClock
	catalog     *stubCatalog
	source      *stubSource
	notifier    *recordingNotifier
	provisioner *stubProvisioner
	persistence *memPersistence
}

func sodEngine(t *testing.T, clock contracts.Clock) *ruleengine.Engine {
	t.Helper()
	e := ruleengine.NewEngine(ruleengine.WithClock(clock))
	require.NoError(t, e.LoadRules([]*contracts.RiskRule{{
		ID: "SOD-001", Name: "Vendor create vs payment run", Kind: contracts.RuleKindSoD,
		Severity: contracts.SeverityCritical, Category: "Financial", Enabled: true,
		Conflicts: []contracts.ConflictSet{{
			Name:                  "vendor-vs-payment",
			FunctionAName:         "Vendor Maintenance",
			FunctionAEntitlements: []contracts.Entitlement{{AuthObject: "S_TCODE", Field: "TCD", Value: "XK01"}},
			FunctionBName:         "Payment Execution",
			FunctionBEntitlements: []contracts.Entitlement{{AuthObject: "S_TCODE", Field: "TCD", Value: "F110"}},
		}},
	}}))
	return e
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: testNow}
	rules := sodEngine(t, clock.Now)

	resolver := &stubResolver{
		managers: map[string]string{"jdoe": "mgr-1", "mgr-1": "dir-1"},
		pools:    map[contracts.ApproverType][]string{contracts.ApproverSecurity: {"sec-1"}},
	}
	approvalRules := []workflow.ApprovalRule{
		{
			ID: "AR-MGR", Name: "Manager", Priority: 10, Enabled: true,
			Step: workflow.StepTemplate{
				Name: "Manager Approval", Type: contracts.ApproverManager,
				SLAHours: 48, Required: true,
			},
		},
		{
			ID: "AR-SEC", Name: "Security on SoD", Priority: 20, Enabled: true,
			Predicate: workflow.Predicate{HasSoDViolations: func() *bool { b := true; return &b }()},
			Step: workflow.StepTemplate{
				Name: "Security Review", Type: contracts.ApproverSecurity,
				SLAHours: 24, Required: true,
			},
		},
	}
	planner, err := workflow.NewPlanner(approvalRules, resolver, workflow.DefaultPlanConfig(), clock.Now, nil)
	require.NoError(t, err)

	catalog := &stubCatalog{entries: map[string]*contracts.RequestedAccess{
		"Z_PAYMENT_RUN": {
			AccessID: "Z_PAYMENT_RUN", AccessName: "Payment Run", System: "ERP",
			Entitlements: []contracts.Entitlement{{AuthObject: "S_TCODE", Field: "TCD", Value: "F110"}},
		},
		"Z_DISPLAY": {
			AccessID: "Z_DISPLAY", AccessName: "Display Only", System: "ERP",
			Entitlements: []contracts.Entitlement{{AuthObject: "S_TCODE", Field: "TCD", Value: "FB03"}},
		},
		"FF_ERP_01": {
			AccessID: "FF_ERP_01", System: "ERP", FirefighterID: "FF-01",
		},
	}}
	source := &stubSource{
		snapshots: map[string]*contracts.UserAccess{
			"jdoe": {UserID: "jdoe", Department: "Finance", Entitlements: []contracts.Entitlement{
				{AuthObject: "S_TCODE", Field: "TCD", Value: "XK01"},
			}},
		},
		firefighters: map[string]*contracts.FirefighterStatus{},
	}
	notifier := &recordingNotifier{}
	provisioner := &stubProvisioner{}
	persistence := &memPersistence{}

	cfg := DefaultConfig()
	cfg.AsyncProvisioning = false
	cfg.ProvisionRetry = resiliency.RetryConfig{MaxRetries: 2, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond}

	coord := New(cfg, Deps{
		Rules:       rules,
		Planner:     planner,
		Source:      source,
		Resolver:    resolver,
		Catalog:     catalog,
		Notifier:    notifier,
		Provisioner: provisioner,
		Persistence: persistence,
		Clock:       clock.Now,
	})
	return &fixture{
		coord: coord, clock: clock, catalog: catalog, source: source,
		notifier: notifier, provisioner: provisioner, persistence: persistence,
	}
}

const justification = "quarter-end payment processing coverage for the finance team"

func createPaymentRequest(t *testing.T, f *fixture) *contracts.AccessRequest {
	t.Helper()
	req, err := f.coord.CreateRequest(context.Background(), &CreateInput{
		Type: contracts.RequestTypeNewAccess, RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"Z_PAYMENT_RUN"}, Justification: justification,
	})
	require.NoError(t, err)
	require.Equal(t, contracts.RequestDraft, req.Status)
	return req
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.CreateRequest(context.Background(), &CreateInput{
		RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"Z_DISPLAY"}, Justification: "too short",
	})
	require.True(t, faults.IsKind(err, faults.Validation))

	_, err = f.coord.CreateRequest(context.Background(), &CreateInput{
		RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"NO_SUCH_ROLE"}, Justification: justification,
	})
	require.True(t, faults.IsKind(err, faults.Validation))

	end := testNow.AddDate(0, 0, 365)
	_, err = f.coord.CreateRequest(context.Background(), &CreateInput{
		RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"Z_DISPLAY"}, Justification: justification,
		IsTemporary: true, EndDate: &end,
	})
	require.True(t, faults.IsKind(err, faults.Validation), "end date beyond maximum")
}

func TestFirefighterAvailabilityChecked(t *testing.T) {
	f := newFixture(t)
	f.source.firefighters["FF-01"] = &contracts.FirefighterStatus{
		FirefighterID: "FF-01", Available: false, Locked: true,
	}

	_, err := f.coord.CreateRequest(context.Background(), &CreateInput{
		Type: contracts.RequestTypeFirefighter, RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"FF_ERP_01"}, Justification: justification,
	})
	require.True(t, faults.IsKind(err, faults.Validation))

	f.source.firefighters["FF-01"].Available = true
	f.source.firefighters["FF-01"].Locked = false
	_, err = f.coord.CreateRequest(context.Background(), &CreateInput{
		Type: contracts.RequestTypeFirefighter, RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"FF_ERP_01"}, Justification: justification,
	})
	require.NoError(t, err)
}

func TestPreviewRiskDelta(t *testing.T) {
	f := newFixture(t)
	req := createPaymentRequest(t, f)

	preview, err := f.coord.PreviewRisk(context.Background(), req.RequestID)
	require.NoError(t, err)
	require.Empty(t, preview.CurrentViolations)
	require.Len(t, preview.FutureViolations, 1)
	require.Len(t, preview.NewViolations, 1)
	require.Equal(t, "SOD-001", preview.NewViolations[0].RuleID)
	require.Equal(t, workflow.RecommendReview, preview.Recommendation)
}

func TestSubmitThroughProvisioning(t *testing.T) {
	f := newFixture(t)
	req := createPaymentRequest(t, f)

	req, err := f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)
	require.Equal(t, contracts.RequestPendingApproval, req.Status)
	require.Equal(t, contracts.RiskCritical, req.RiskLevel)
	require.Len(t, req.SoDViolations, 1)
	require.Len(t, req.Steps, 2, "manager plus security review")

	// Manager approves.
	req, err = f.coord.ProcessApproval(context.Background(), req.RequestID, req.Steps[0].StepID,
		workflow.ActionApprove, "mgr-1", "business need confirmed", "")
	require.NoError(t, err)
	require.Equal(t, contracts.RequestPendingApproval, req.Status)

	// Security approves; provisioning runs inline.
	req, err = f.coord.ProcessApproval(context.Background(), req.RequestID, req.Steps[1].StepID,
		workflow.ActionApprove, "sec-1", "reviewed", "")
	require.NoError(t, err)
	require.Equal(t, contracts.RequestProvisioned, req.Status)
	require.Equal(t, 1, f.provisioner.provisions)

	types := f.persistence.eventTypes()
	require.Contains(t, types, contracts.EventRequestCreated)
	require.Contains(t, types, contracts.EventRequestSubmitted)
	require.Contains(t, types, contracts.EventViolationDetected)
	require.Contains(t, types, contracts.EventRequestApproved)
	require.Contains(t, types, contracts.EventRequestProvisioned)
}

func TestAutoApproveLowRisk(t *testing.T) {
	f := newFixture(t)
	req, err := f.coord.CreateRequest(context.Background(), &CreateInput{
		Type: contracts.RequestTypeNewAccess, RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"Z_DISPLAY"}, Justification: justification,
	})
	require.NoError(t, err)

	req, err = f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)
	require.Equal(t, contracts.RequestProvisioned, req.Status)
	require.Equal(t, contracts.SystemActor, req.DecisionBy)
	for _, step := range req.Steps {
		require.Equal(t, contracts.StepSkipped, step.Status)
	}
}

func TestAutoApproveSubmitReturnsWithInlineProvisioning(t *testing.T) {
	f := newFixture(t)
	req, err := f.coord.CreateRequest(context.Background(), &CreateInput{
		Type: contracts.RequestTypeNewAccess, RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"Z_DISPLAY"}, Justification: justification,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Submit(context.Background(), req.RequestID)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return: auto-approve must release the request lock before provisioning")
	}

	got, err := f.coord.Get(req.RequestID)
	require.NoError(t, err)
	require.Equal(t, contracts.RequestProvisioned, got.Status)
	require.Equal(t, 1, f.provisioner.provisions)
}

func TestConcurrentSubmitSingleWinner(t *testing.T) {
	f := newFixture(t)
	req := createPaymentRequest(t, f)

	const attempts = 4
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Submit(context.Background(), req.RequestID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won := 0
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		require.True(t, faults.IsKind(err, faults.State), "losers see a state fault, got %v", err)
	}
	require.Equal(t, 1, won, "exactly one submit wins")
	require.Equal(t, contracts.RequestPendingApproval, req.Status)
	require.Len(t, req.Steps, 2, "the plan is generated once")
}

func TestProvisioningRetriesTransient(t *testing.T) {
	f := newFixture(t)
	f.provisioner.transient = 2

	req := createPaymentRequest(t, f)
	req, err := f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)
	req, err = f.coord.ProcessApproval(context.Background(), req.RequestID, req.Steps[0].StepID,
		workflow.ActionApprove, "mgr-1", "", "")
	require.NoError(t, err)
	req, err = f.coord.ProcessApproval(context.Background(), req.RequestID, req.Steps[1].StepID,
		workflow.ActionApprove, "sec-1", "", "")
	require.NoError(t, err)
	require.Equal(t, contracts.RequestProvisioned, req.Status)
	require.Equal(t, 3, f.provisioner.provisions, "two transient failures then success")
}

func TestProvisioningPermanentFailure(t *testing.T) {
	f := newFixture(t)
	f.provisioner.fail = &contracts.ProvisionResult{OK: false, Permanent: true, Error: "role does not exist"}

	req := createPaymentRequest(t, f)
	req, err := f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)
	req, _ = f.coord.ProcessApproval(context.Background(), req.RequestID, req.Steps[0].StepID,
		workflow.ActionApprove, "mgr-1", "", "")
	req, _ = f.coord.ProcessApproval(context.Background(), req.RequestID, req.Steps[1].StepID,
		workflow.ActionApprove, "sec-1", "", "")

	require.Equal(t, contracts.RequestFailed, req.Status)
	require.Contains(t, req.FailureReason, "role does not exist")
	require.Equal(t, 1, f.provisioner.provisions, "permanent failures are not retried")
}

func TestExpirySweepRevokesTemporaryAccess(t *testing.T) {
	f := newFixture(t)
	end := testNow.AddDate(0, 0, 7)
	req, err := f.coord.CreateRequest(context.Background(), &CreateInput{
		Type: contracts.RequestTypeNewAccess, RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"Z_DISPLAY"}, Justification: justification,
		IsTemporary: true, EndDate: &end,
	})
	require.NoError(t, err)

	req, err = f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)
	require.Equal(t, contracts.RequestProvisioned, req.Status)
	require.NotNil(t, req.ExpiresAt)

	// Before the end date nothing expires.
	f.coord.ExpirySweep(context.Background())
	require.Equal(t, contracts.RequestProvisioned, req.Status)

	f.clock.Advance(8 * 24 * time.Hour)
	f.coord.ExpirySweep(context.Background())
	require.Equal(t, contracts.RequestExpired, req.Status)
	require.Equal(t, 1, f.provisioner.revokes)
	require.Contains(t, f.persistence.eventTypes(), contracts.EventRequestExpired)
}

func TestExpiryNotificationsWarnOncePerDay(t *testing.T) {
	f := newFixture(t)
	end := testNow.AddDate(0, 0, 5)
	req, err := f.coord.CreateRequest(context.Background(), &CreateInput{
		Type: contracts.RequestTypeNewAccess, RequesterID: "jdoe", TargetUserID: "jdoe",
		AccessIDs: []string{"Z_DISPLAY"}, Justification: justification,
		IsTemporary: true, EndDate: &end,
	})
	require.NoError(t, err)
	_, err = f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)

	before := len(f.notifier.sent)
	f.coord.ExpiryNotifications(context.Background(), 7)
	warned := len(f.notifier.sent) - before
	require.Equal(t, 2, warned, "requester and target")

	f.coord.ExpiryNotifications(context.Background(), 7)
	require.Len(t, f.notifier.sent, before+warned, "same day is deduplicated")
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	req := createPaymentRequest(t, f)
	_, err := f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)

	require.Len(t, f.coord.ByRequester("jdoe"), 1)
	require.Len(t, f.coord.ByTarget("jdoe"), 1)
	require.Empty(t, f.coord.ByRequester("other"))

	pending := f.coord.PendingForApprover("mgr-1")
	require.Len(t, pending, 1)
	require.Empty(t, f.coord.PendingForApprover("sec-1"), "security step is not current yet")

	_, err = f.coord.Get("missing")
	require.True(t, faults.IsKind(err, faults.NotFound))
}

func TestSlaSweepThroughCoordinator(t *testing.T) {
	f := newFixture(t)
	req := createPaymentRequest(t, f)
	req, err := f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)

	f.clock.Advance(49 * time.Hour)
	require.NoError(t, f.coord.SlaSweep(context.Background()))
	require.True(t, req.Steps[0].EscalationTriggered)
	require.Contains(t, req.Steps[0].ApproverIDs, "dir-1")
}

func TestSlaSweepSerializedWithApproval(t *testing.T) {
	f := newFixture(t)
	req := createPaymentRequest(t, f)
	req, err := f.coord.Submit(context.Background(), req.RequestID)
	require.NoError(t, err)
	stepID := req.Steps[0].StepID
	f.clock.Advance(49 * time.Hour)

	// Both paths mutate the same step; each must go through the
	// request's lock, in either order.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = f.coord.SlaSweep(context.Background())
	}()
	go func() {
		defer wg.Done()
		_, err := f.coord.ProcessApproval(context.Background(), req.RequestID, stepID,
			workflow.ActionApprove, "mgr-1", "business need confirmed", "")
		require.NoError(t, err)
	}()
	wg.Wait()

	got, err := f.coord.Get(req.RequestID)
	require.NoError(t, err)
	require.Equal(t, contracts.StepApproved, got.Steps[0].Status)
	require.Equal(t, contracts.RequestPendingApproval, got.Status)
}

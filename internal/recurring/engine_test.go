package recurring_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewo77/recurring-invoices/internal/clock"
	"github.com/diewo77/recurring-invoices/internal/config"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/notify"
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"github.com/diewo77/recurring-invoices/internal/recurrence"
	"github.com/diewo77/recurring-invoices/internal/recurring"
	"github.com/diewo77/recurring-invoices/internal/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var (
	nov1 = time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC)
	nov2 = time.Date(2024, time.November, 2, 0, 0, 0, 0, time.UTC)
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type env struct {
	db       *gorm.DB
	clock    *clock.Mock
	client   *models.Client
	notifier *fakeNotifier
	logs     *observer.ObservedLogs
	engine   *recurring.Engine
}

type option func(*recurring.Params)

func withRepo(wrap func(recurring.Repository) recurring.Repository) option {
	return func(p *recurring.Params) { p.Repo = wrap(p.Repo) }
}

func withMissingClient(policy string) option {
	return func(p *recurring.Params) { p.Config.OnMissingClient = policy }
}

func newEnv(t *testing.T, opts ...option) *env {
	t.Helper()
	db := testutil.NewDB(t)
	_, client := testutil.SeedOrg(t, db, "inv")
	clk := clock.NewMock(nov2)
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	notifier := &fakeNotifier{}

	p := recurring.Params{
		DB:        db,
		Repo:      recurring.NewGormRepository(),
		Allocator: numbering.NewAllocator(db, numbering.NewGormStore(), clk, log),
		Notifier:  notifier,
		Clock:     clk,
		Node:      node,
		Log:       log,
		Config: config.SchedulerConfig{
			LeaseTTL:        time.Minute,
			OnMissingClient: config.OnMissingClientRetry,
			DueInDays:       7,
		},
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &env{
		db:       db,
		clock:    clk,
		client:   client,
		notifier: notifier,
		logs:     logs,
		engine:   recurring.NewEngine(p),
	}
}

func (e *env) reload(t *testing.T, id uint) *models.Invoice {
	t.Helper()
	var inv models.Invoice
	if err := e.db.Preload("Items").First(&inv, id).Error; err != nil {
		t.Fatalf("reload %d: %v", id, err)
	}
	return &inv
}

func (e *env) children(t *testing.T, templateID uint) []models.Invoice {
	t.Helper()
	var out []models.Invoice
	if err := e.db.Preload("Items").Where("parent_recurring_id = ?", templateID).Order("id").Find(&out).Error; err != nil {
		t.Fatalf("load children: %v", err)
	}
	return out
}

func (e *env) runs(t *testing.T, templateID uint) []models.RecurringRun {
	t.Helper()
	var out []models.RecurringRun
	if err := e.db.Where("template_id = ?", templateID).Order("created_at, id").Find(&out).Error; err != nil {
		t.Fatalf("load runs: %v", err)
	}
	return out
}

func TestAdvance_MonthlyFirstDayEndToEnd(t *testing.T) {
	e := newEnv(t)
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{
		Frequency: recurrence.MonthlyFirstDay,
		NextRunAt: nov1,
	})

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if outcome != recurring.OutcomeGenerated {
		t.Fatalf("outcome = %s", outcome)
	}

	children := e.children(t, tpl.ID)
	if len(children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(children))
	}
	child := children[0]
	if !child.IssueDate.Equal(nov1) {
		t.Errorf("issue date = %v, want %v", child.IssueDate, nov1)
	}
	if !child.DueDate.Equal(nov1.AddDate(0, 0, 7)) {
		t.Errorf("due date = %v", child.DueDate)
	}
	if child.Number != "INV-2024-11-001" {
		t.Errorf("number = %q", child.Number)
	}
	if child.Status != models.InvoiceStatusPending {
		t.Errorf("status = %q", child.Status)
	}
	if child.Recurring.Enabled {
		t.Error("child must not recur")
	}
	if child.ParentRecurringID == nil || *child.ParentRecurringID != tpl.ID {
		t.Errorf("parent = %v", child.ParentRecurringID)
	}
	if len(child.Items) != 2 || !child.Amount.Equal(tpl.Amount) || !child.Discount.Equal(tpl.Discount) {
		t.Errorf("billing content not copied: items=%d amount=%s discount=%s", len(child.Items), child.Amount, child.Discount)
	}
	if len(child.Attachments) != 1 || child.TemplateRef != tpl.TemplateRef || child.Notes != tpl.Notes {
		t.Errorf("attachments/template/notes not copied: %+v", child)
	}

	updated := e.reload(t, tpl.ID)
	r := updated.Recurring
	if r.LastRunAt == nil || !r.LastRunAt.Equal(nov1) {
		t.Errorf("last run = %v, want %v", r.LastRunAt, nov1)
	}
	if r.NextRunAt == nil || !r.NextRunAt.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("next run = %v, want 2024-12-01", r.NextRunAt)
	}
	if r.RunCount != 1 {
		t.Errorf("run count = %d, want 1", r.RunCount)
	}
	if !r.Enabled || r.LockOwner != "" || r.LockedUntil != nil {
		t.Errorf("template left in wrong state: %+v", r)
	}
	if updated.ParentRecurringID != nil {
		t.Error("template must not carry a parent")
	}

	var ledger models.InvoiceNumber
	if err := e.db.Where("number = ?", child.Number).First(&ledger).Error; err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.State != models.NumberCommitted || ledger.InvoiceID == nil || *ledger.InvoiceID != child.ID {
		t.Errorf("ledger row not committed to child: %+v", ledger)
	}

	runs := e.runs(t, tpl.ID)
	if len(runs) != 1 || runs[0].Outcome != models.RunGenerated || runs[0].ChildInvoiceID == nil || *runs[0].ChildInvoiceID != child.ID {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func TestAdvance_PastEndDateDisablesTemplate(t *testing.T) {
	e := newEnv(t)
	end := time.Date(2024, time.October, 15, 0, 0, 0, 0, time.UTC)
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1, EndDate: &end})

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if outcome != recurring.OutcomeCompleted {
		t.Fatalf("outcome = %s", outcome)
	}
	if n := len(e.children(t, tpl.ID)); n != 0 {
		t.Fatalf("expected no child, got %d", n)
	}
	updated := e.reload(t, tpl.ID)
	if updated.Recurring.Enabled {
		t.Error("template should be disabled")
	}
	if updated.Recurring.RunCount != 0 {
		t.Errorf("run count = %d", updated.Recurring.RunCount)
	}
	runs := e.runs(t, tpl.ID)
	if len(runs) != 1 || runs[0].Outcome != models.RunCompleted {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func TestAdvance_EndDateOnScheduledRunStillGenerates(t *testing.T) {
	e := newEnv(t)
	end := nov1
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1, EndDate: &end})

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if err != nil || outcome != recurring.OutcomeGenerated {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
}

func TestAdvance_NotificationFailureKeepsInvoice(t *testing.T) {
	e := newEnv(t)
	e.notifier.err = notify.ErrDeliveryFailed
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1, AutoSend: true})

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if outcome != recurring.OutcomeGenerated {
		t.Fatalf("outcome = %s", outcome)
	}
	if n := len(e.children(t, tpl.ID)); n != 1 {
		t.Fatalf("expected exactly 1 child, got %d", n)
	}
	if rc := e.reload(t, tpl.ID).Recurring.RunCount; rc != 1 {
		t.Fatalf("run count = %d, want 1", rc)
	}
	runs := e.runs(t, tpl.ID)
	if len(runs) != 1 || runs[0].NotificationError == "" {
		t.Errorf("notification error not recorded: %+v", runs)
	}
	if e.logs.FilterMessage("invoice notification failed").Len() != 1 {
		t.Error("expected a warning for the failed notification")
	}
}

func TestAdvance_AutoSendMailsClient(t *testing.T) {
	e := newEnv(t)
	settings := &models.CompanySettings{OrganizationID: e.client.OrganizationID, Name: "Acme Billing"}
	if err := e.db.Create(settings).Error; err != nil {
		t.Fatalf("create settings: %v", err)
	}
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1, AutoSend: true, AutoCharge: true})

	if _, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID)); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(e.notifier.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(e.notifier.sent))
	}
	msg := e.notifier.sent[0]
	if msg.Email != e.client.Email {
		t.Errorf("email = %q", msg.Email)
	}
	if msg.Subject != "Invoice INV-2024-11-001 from Acme Billing" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Due date: 2024-11-08") {
		t.Errorf("body = %q", msg.Body)
	}
	if e.logs.FilterMessage("auto-charge requested, no payment taken").Len() != 1 {
		t.Error("expected auto-charge stub log")
	}
}

func TestAdvance_MissingClientRetryLeavesScheduleDue(t *testing.T) {
	e := newEnv(t)
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1})
	if err := e.db.Delete(e.client).Error; err != nil {
		t.Fatalf("delete client: %v", err)
	}

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if outcome != recurring.OutcomeFailed {
		t.Fatalf("outcome = %s", outcome)
	}
	if !errors.Is(err, numbering.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}

	r := e.reload(t, tpl.ID).Recurring
	if !r.NextRunAt.Equal(nov1) || r.RunCount != 0 || r.LastRunAt != nil {
		t.Errorf("schedule moved: %+v", r)
	}
	if r.LockOwner != "" || r.LastError == "" {
		t.Errorf("lease not released or error not kept: %+v", r)
	}
	runs := e.runs(t, tpl.ID)
	if len(runs) != 1 || runs[0].Outcome != models.RunFailed {
		t.Errorf("unexpected runs: %+v", runs)
	}

	// Still due on the next pass.
	outcome, _ = e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if outcome != recurring.OutcomeFailed {
		t.Errorf("second pass outcome = %s", outcome)
	}
}

func TestAdvance_MissingClientSkipAdvancesWithoutRun(t *testing.T) {
	e := newEnv(t, withMissingClient(config.OnMissingClientSkip))
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1})
	if err := e.db.Delete(e.client).Error; err != nil {
		t.Fatalf("delete client: %v", err)
	}

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if outcome != recurring.OutcomeSkipped {
		t.Fatalf("outcome = %s", outcome)
	}
	r := e.reload(t, tpl.ID).Recurring
	if !r.NextRunAt.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("next run = %v", r.NextRunAt)
	}
	if r.RunCount != 0 || r.LastRunAt != nil {
		t.Errorf("skipped cycle counted as run: %+v", r)
	}
	if n := len(e.children(t, tpl.ID)); n != 0 {
		t.Errorf("expected no child, got %d", n)
	}
}

func TestAdvance_LeasedTemplateIsBusy(t *testing.T) {
	e := newEnv(t)
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1})
	until := nov2.Add(time.Minute)
	e.db.Model(&models.Invoice{}).Where("id = ?", tpl.ID).Updates(map[string]any{
		"recurring_locked_until": until,
		"recurring_lock_owner":   "other-worker",
	})

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if err != nil || outcome != recurring.OutcomeBusy {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}

	// An expired lease is taken over.
	e.clock.Add(2 * time.Minute)
	outcome, err = e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if err != nil || outcome != recurring.OutcomeGenerated {
		t.Fatalf("after expiry: outcome = %s, err = %v", outcome, err)
	}
}

func TestAdvance_StaleSnapshotDoesNotGenerateTwice(t *testing.T) {
	e := newEnv(t)
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1})
	snapshot := e.reload(t, tpl.ID)

	if outcome, err := e.engine.Advance(context.Background(), snapshot); err != nil || outcome != recurring.OutcomeGenerated {
		t.Fatalf("first: outcome = %s, err = %v", outcome, err)
	}
	outcome, err := e.engine.Advance(context.Background(), snapshot)
	if err != nil || outcome != recurring.OutcomeBusy {
		t.Fatalf("second: outcome = %s, err = %v", outcome, err)
	}
	if n := len(e.children(t, tpl.ID)); n != 1 {
		t.Fatalf("expected 1 child, got %d", n)
	}
}

func TestAdvance_ConcurrentWorkersGenerateOnce(t *testing.T) {
	e := newEnv(t)
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1})

	const workers = 4
	outcomes := make([]recurring.Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		snapshot := e.reload(t, tpl.ID)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = e.engine.Advance(context.Background(), snapshot)
		}(i)
	}
	wg.Wait()

	generated := 0
	for _, o := range outcomes {
		switch o {
		case recurring.OutcomeGenerated:
			generated++
		case recurring.OutcomeBusy:
		default:
			t.Errorf("unexpected outcome %s", o)
		}
	}
	if generated != 1 {
		t.Fatalf("expected exactly one generation, got %d (%v)", generated, outcomes)
	}
	if n := len(e.children(t, tpl.ID)); n != 1 {
		t.Fatalf("expected 1 child, got %d", n)
	}
}

type failingCreate struct {
	recurring.Repository
}

func (failingCreate) CreateChild(context.Context, *gorm.DB, *models.Invoice) error {
	return errors.New("disk full")
}

func TestAdvance_PersistFailureRollsBack(t *testing.T) {
	e := newEnv(t, withRepo(func(r recurring.Repository) recurring.Repository { return failingCreate{r} }))
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1})

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if outcome != recurring.OutcomeFailed || err == nil {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}

	var reserved int64
	e.db.Model(&models.InvoiceNumber{}).Count(&reserved)
	if reserved != 0 {
		t.Errorf("expected reservation to be released, %d ledger rows left", reserved)
	}
	r := e.reload(t, tpl.ID).Recurring
	if !r.NextRunAt.Equal(nov1) || r.RunCount != 0 || !strings.Contains(r.LastError, "disk full") {
		t.Errorf("unexpected template state: %+v", r)
	}
	runs := e.runs(t, tpl.ID)
	if len(runs) != 1 || runs[0].Outcome != models.RunFailed || runs[0].InvoiceNumber != "INV-2024-11-001" {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

type panickingRepo struct {
	recurring.Repository
}

func (panickingRepo) Acquire(context.Context, *gorm.DB, uint, time.Time, string, time.Time, time.Time) (bool, error) {
	panic("boom")
}

func TestAdvance_RecoversPanic(t *testing.T) {
	e := newEnv(t, withRepo(func(r recurring.Repository) recurring.Repository { return panickingRepo{r} }))
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{NextRunAt: nov1})

	outcome, err := e.engine.Advance(context.Background(), e.reload(t, tpl.ID))
	if outcome != recurring.OutcomeFailed {
		t.Fatalf("outcome = %s", outcome)
	}
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("err = %v", err)
	}
}

func TestAdvance_NoNextRun(t *testing.T) {
	e := newEnv(t)
	outcome, err := e.engine.Advance(context.Background(), &models.Invoice{ID: 42})
	if outcome != recurring.OutcomeFailed || !errors.Is(err, recurring.ErrNoNextRun) {
		t.Fatalf("outcome = %s, err = %v", outcome, err)
	}
}

func TestAdvance_SuccessiveCycles(t *testing.T) {
	e := newEnv(t)
	tpl := testutil.SeedTemplate(t, e.db, e.client, testutil.Template{Frequency: recurrence.Weekly, NextRunAt: nov1})

	seen := map[string]bool{}
	for i := 1; i <= 5; i++ {
		current := e.reload(t, tpl.ID)
		e.clock.Set(current.Recurring.NextRunAt.Add(time.Hour))

		outcome, err := e.engine.Advance(context.Background(), current)
		if err != nil || outcome != recurring.OutcomeGenerated {
			t.Fatalf("cycle %d: outcome = %s, err = %v", i, outcome, err)
		}

		updated := e.reload(t, tpl.ID).Recurring
		if updated.RunCount != i {
			t.Fatalf("cycle %d: run count = %d", i, updated.RunCount)
		}
		if !updated.NextRunAt.After(*updated.LastRunAt) {
			t.Fatalf("cycle %d: next run %v not after last run %v", i, updated.NextRunAt, updated.LastRunAt)
		}
	}
	for _, child := range e.children(t, tpl.ID) {
		if seen[child.Number] {
			t.Fatalf("duplicate number %s", child.Number)
		}
		seen[child.Number] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 children, got %d", len(seen))
	}
}

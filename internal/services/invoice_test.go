package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/clock"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"github.com/diewo77/recurring-invoices/internal/recurrence"
	"github.com/diewo77/recurring-invoices/internal/services"
	"github.com/diewo77/recurring-invoices/internal/testutil"
	"github.com/diewo77/recurring-invoices/internal/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var nov2 = time.Date(2024, time.November, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	svc    *services.InvoiceService
	client *models.Client
	p      auth.Principal
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	org, client := testutil.SeedOrg(t, db, "")
	user := testutil.SeedUser(t, db, org, "accountant")
	clk := clock.NewMock(nov2)
	alloc := numbering.NewAllocator(db, numbering.NewGormStore(), clk, zap.NewNop())
	return &fixture{
		db:     db,
		svc:    services.NewInvoiceService(db, alloc, clk, zap.NewNop()),
		client: client,
		p:      auth.Principal{UserID: user.ID, OrganizationID: org.ID},
	}
}

func input(clientID uint) services.CreateInvoiceInput {
	return services.CreateInvoiceInput{
		ClientID: clientID,
		Discount: decimal.NewFromInt(10),
		Items: []services.ItemInput{
			{Description: "Consulting", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(100), VATRate: decimal.RequireFromString("0.2")},
			{Description: "Travel", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(50)},
		},
	}
}

func TestCreate_AllocatesSequentialNumbers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.p, input(f.client.ID))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := f.svc.Create(ctx, f.p, input(f.client.ID))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Number != "INV-2024-11-001" || second.Number != "INV-2024-11-002" {
		t.Fatalf("numbers = %s, %s", first.Number, second.Number)
	}
	// 200 + 40 VAT + 50 - 10 discount
	if !first.Amount.Equal(decimal.NewFromInt(280)) {
		t.Errorf("amount = %s", first.Amount)
	}
	if !first.IssueDate.Equal(time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC)) || !first.DueDate.Equal(time.Date(2024, 11, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("dates = %v, %v", first.IssueDate, first.DueDate)
	}
	if first.Status != models.InvoiceStatusDraft || first.Currency != "EUR" || first.CreatedByID != f.p.UserID {
		t.Errorf("unexpected invoice %+v", first)
	}
	if first.IsTemplate() {
		t.Error("plain invoice must not be a template")
	}

	var ledger models.InvoiceNumber
	if err := f.db.Where("number = ?", first.Number).First(&ledger).Error; err != nil {
		t.Fatal(err)
	}
	if ledger.State != models.NumberCommitted || *ledger.InvoiceID != first.ID {
		t.Errorf("ledger = %+v", ledger)
	}
}

func TestCreate_RecurringTemplate(t *testing.T) {
	f := setup(t)
	in := input(f.client.ID)
	start := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	in.Recurring = &services.RecurringInput{Frequency: recurrence.MonthlyFirstDay, StartDate: start, AutoSend: true}

	inv, err := f.svc.Create(context.Background(), f.p, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stored, err := f.svc.Get(context.Background(), f.p, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	r := stored.Recurring
	if !r.Enabled || r.Paused || !r.AutoSend || r.RunCount != 0 {
		t.Errorf("recurring = %+v", r)
	}
	if r.NextRunAt == nil || !r.NextRunAt.Equal(start) || !r.StartDate.Equal(start) {
		t.Errorf("next run = %v, start = %v", r.NextRunAt, r.StartDate)
	}
	if len(stored.Items) != 2 || stored.Items[0].Description != "Consulting" {
		t.Errorf("items = %+v", stored.Items)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	start := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, -1, 0)

	tests := []struct {
		name  string
		edit  func(*services.CreateInvoiceInput)
		field string
	}{
		{"missing client", func(in *services.CreateInvoiceInput) { in.ClientID = 0 }, "client_id"},
		{"foreign client", func(in *services.CreateInvoiceInput) { in.ClientID = 9999 }, "client_id"},
		{"no items", func(in *services.CreateInvoiceInput) { in.Items = nil }, "items"},
		{"zero quantity", func(in *services.CreateInvoiceInput) { in.Items[0].Quantity = decimal.Zero }, "items[0].quantity"},
		{"negative discount", func(in *services.CreateInvoiceInput) { in.Discount = decimal.NewFromInt(-1) }, "discount"},
		{"bad frequency", func(in *services.CreateInvoiceInput) {
			in.Recurring = &services.RecurringInput{Frequency: "hourly", StartDate: start}
		}, "recurring.frequency"},
		{"specific day out of range", func(in *services.CreateInvoiceInput) {
			in.Recurring = &services.RecurringInput{Frequency: recurrence.MonthlySpecificDay, SpecificDay: 32, StartDate: start}
		}, "recurring.specific_day"},
		{"end before start", func(in *services.CreateInvoiceInput) {
			in.Recurring = &services.RecurringInput{Frequency: recurrence.Weekly, StartDate: start, EndDate: &before}
		}, "recurring.end_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(f.client.ID)
			tt.edit(&in)
			_, err := f.svc.Create(context.Background(), f.p, in)
			var v validation.Violations
			if !errors.As(err, &v) {
				t.Fatalf("expected violations, got %v", err)
			}
			if _, ok := v[tt.field]; !ok {
				t.Errorf("missing violation for %s: %v", tt.field, v)
			}
		})
	}

	var n int64
	f.db.Model(&models.InvoiceNumber{}).Count(&n)
	if n != 0 {
		t.Errorf("rejected input consumed %d numbers", n)
	}
}

type failingCommit struct {
	services.NumberAllocator
	released int
}

func (f *failingCommit) Commit(context.Context, *gorm.DB, *numbering.Reservation, uint) error {
	return errors.New("commit failed")
}

func (f *failingCommit) Release(ctx context.Context, res *numbering.Reservation) error {
	f.released++
	return f.NumberAllocator.Release(ctx, res)
}

func TestCreate_FailureReleasesNumber(t *testing.T) {
	f := setup(t)
	clk := clock.NewMock(nov2)
	alloc := &failingCommit{NumberAllocator: numbering.NewAllocator(f.db, numbering.NewGormStore(), clk, zap.NewNop())}
	svc := services.NewInvoiceService(f.db, alloc, clk, zap.NewNop())

	if _, err := svc.Create(context.Background(), f.p, input(f.client.ID)); err == nil {
		t.Fatal("expected error")
	}
	if alloc.released != 1 {
		t.Fatalf("released = %d", alloc.released)
	}
	var invoices, numbers int64
	f.db.Model(&models.Invoice{}).Count(&invoices)
	f.db.Model(&models.InvoiceNumber{}).Count(&numbers)
	if invoices != 0 || numbers != 0 {
		t.Fatalf("left %d invoices and %d ledger rows", invoices, numbers)
	}

	// The number is reused by the next successful creation.
	inv, err := f.svc.Create(context.Background(), f.p, input(f.client.ID))
	if err != nil || inv.Number != "INV-2024-11-001" {
		t.Fatalf("Create = %v, %v", inv, err)
	}
}

func TestRecurringLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	in := input(f.client.ID)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	in.Recurring = &services.RecurringInput{Frequency: recurrence.MonthlyFirstDay, StartDate: start, EndDate: &end}
	tpl, err := f.svc.Create(ctx, f.p, in)
	if err != nil {
		t.Fatal(err)
	}

	view, err := f.svc.Schedule(ctx, f.p, tpl.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Upcoming) != 3 || !view.Upcoming[2].Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("upcoming = %v", view.Upcoming)
	}

	if inv, err := f.svc.Pause(ctx, f.p, tpl.ID); err != nil || !inv.Recurring.Paused {
		t.Fatalf("Pause = %+v, %v", inv, err)
	}
	if view, _ := f.svc.Schedule(ctx, f.p, tpl.ID, 5); len(view.Upcoming) != 0 {
		t.Errorf("paused schedule has upcoming runs: %v", view.Upcoming)
	}
	if inv, err := f.svc.Resume(ctx, f.p, tpl.ID); err != nil || inv.Recurring.Paused {
		t.Fatalf("Resume = %+v, %v", inv, err)
	}
	if inv, err := f.svc.Stop(ctx, f.p, tpl.ID); err != nil || inv.Recurring.Enabled {
		t.Fatalf("Stop = %+v, %v", inv, err)
	}
	if _, err := f.svc.Pause(ctx, f.p, tpl.ID); !errors.Is(err, services.ErrNotRecurring) {
		t.Fatalf("Pause after Stop = %v", err)
	}

	other := auth.Principal{UserID: f.p.UserID, OrganizationID: f.p.OrganizationID + 1}
	if _, err := f.svc.Pause(ctx, other, tpl.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("cross-tenant Pause = %v", err)
	}
}

func TestRuns(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	in := input(f.client.ID)
	in.Recurring = &services.RecurringInput{Frequency: recurrence.Weekly, StartDate: nov2}
	tpl, err := f.svc.Create(ctx, f.p, in)
	if err != nil {
		t.Fatal(err)
	}
	for i, outcome := range []models.RunOutcome{models.RunGenerated, models.RunFailed} {
		run := &models.RecurringRun{
			ID:             snowflake.ID(1_000_000 + int64(i)),
			OrganizationID: f.p.OrganizationID,
			TemplateID:     tpl.ID,
			ScheduledFor:   nov2.AddDate(0, 0, 7*i),
			Outcome:        outcome,
		}
		if err := f.db.Create(run).Error; err != nil {
			t.Fatal(err)
		}
	}
	runs, err := f.svc.Runs(ctx, f.p, tpl.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Outcome != models.RunFailed {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestMarkPaidAndRevenue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a, _ := f.svc.Create(ctx, f.p, input(f.client.ID))
	b, _ := f.svc.Create(ctx, f.p, input(f.client.ID))
	usd := input(f.client.ID)
	usd.Currency = "usd"
	c, _ := f.svc.Create(ctx, f.p, usd)
	if _, err := f.svc.Create(ctx, f.p, input(f.client.ID)); err != nil {
		t.Fatal(err)
	}

	for _, inv := range []*models.Invoice{a, b, c} {
		if _, err := f.svc.MarkPaid(ctx, f.p, inv.ID); err != nil {
			t.Fatalf("MarkPaid: %v", err)
		}
	}
	if _, err := f.svc.MarkPaid(ctx, f.p, a.ID); !errors.Is(err, services.ErrAlreadyPaid) {
		t.Fatalf("second MarkPaid = %v", err)
	}
	if err := f.svc.Delete(ctx, f.p, a.ID); !errors.Is(err, services.ErrNotEditable) {
		t.Fatalf("Delete paid = %v", err)
	}

	revenue, err := f.svc.Revenue(ctx, f.p)
	if err != nil {
		t.Fatal(err)
	}
	if !revenue["EUR"].Equal(decimal.NewFromInt(560)) || !revenue["USD"].Equal(decimal.NewFromInt(280)) {
		t.Fatalf("revenue = %v", revenue)
	}
}

func TestListAndDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	plain, _ := f.svc.Create(ctx, f.p, input(f.client.ID))
	in := input(f.client.ID)
	in.Reference = "PO-778"
	in.Recurring = &services.RecurringInput{Frequency: recurrence.Quarterly, StartDate: nov2}
	tpl, _ := f.svc.Create(ctx, f.p, in)

	all, total, err := f.svc.List(ctx, f.p, services.ListFilter{})
	if err != nil || total != 2 || len(all) != 2 {
		t.Fatalf("List = %d (%d), %v", len(all), total, err)
	}
	templates, total, _ := f.svc.List(ctx, f.p, services.ListFilter{Templates: true})
	if total != 1 || templates[0].ID != tpl.ID {
		t.Fatalf("templates = %+v", templates)
	}
	found, _, _ := f.svc.List(ctx, f.p, services.ListFilter{Query: "po-7"})
	if len(found) != 1 || found[0].ID != tpl.ID {
		t.Fatalf("search = %+v", found)
	}

	if err := f.svc.Delete(ctx, f.p, plain.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.p, plain.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("Get deleted = %v", err)
	}
}

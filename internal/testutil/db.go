// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/recurring-invoices/internal/db"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/recurrence"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory SQLite database private to t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// SeedOrg creates an organization with one client using prefix.
func SeedOrg(t testing.TB, conn *gorm.DB, prefix string) (*models.Organization, *models.Client) {
	t.Helper()
	org := &models.Organization{Name: "Acme", Currency: "EUR"}
	if err := conn.Create(org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}
	client := &models.Client{
		OrganizationID: org.ID,
		Name:           "Globex",
		Email:          "billing@globex.test",
		InvoicePrefix:  prefix,
	}
	if err := conn.Create(client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}
	return org, client
}

// TestPassword is the password of every user created by SeedUser.
const TestPassword = "correct horse battery"

// SeedUser creates a user in org holding the named seeded profile. The
// default profiles are seeded on first use.
func SeedUser(t testing.TB, conn *gorm.DB, org *models.Organization, profile string) *models.User {
	t.Helper()
	if err := db.SeedProfiles(conn); err != nil {
		t.Fatalf("seed profiles: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	name := profile
	if name == "" {
		name = "member"
	}
	user := &models.User{
		Email:          fmt.Sprintf("%s-%d@acme.test", name, time.Now().UnixNano()),
		Name:           name,
		Password:       string(hash),
		OrganizationID: org.ID,
	}
	if profile != "" {
		var p models.Profile
		if err := conn.Where("name = ?", profile).First(&p).Error; err != nil {
			t.Fatalf("load profile %q: %v", profile, err)
		}
		user.ProfileID = &p.ID
	}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// Template describes a recurring template to insert with SeedTemplate.
type Template struct {
	Frequency   recurrence.Frequency
	SpecificDay int
	CustomDays  int
	NextRunAt   time.Time
	EndDate     *time.Time
	AutoSend    bool
	AutoCharge  bool
	Paused      bool
}

// SeedTemplate inserts an enabled recurring template with two line items.
func SeedTemplate(t testing.TB, conn *gorm.DB, client *models.Client, tpl Template) *models.Invoice {
	t.Helper()
	next := tpl.NextRunAt.UTC()
	inv := &models.Invoice{
		OrganizationID: client.OrganizationID,
		ClientID:       client.ID,
		Number:         fmt.Sprintf("TPL-%d", time.Now().UnixNano()),
		IssueDate:      next,
		DueDate:        next.AddDate(0, 0, 7),
		Status:         models.InvoiceStatusDraft,
		Currency:       "EUR",
		Discount:       decimal.NewFromInt(5),
		TaxType:        models.TaxExclusive,
		Notes:          "Monthly hosting",
		TemplateRef:    "classic",
		Attachments:    []models.Attachment{{Name: "terms.pdf", URL: "https://files.test/terms.pdf"}},
		Items: []models.InvoiceItem{
			{Description: "Hosting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100), VATRate: decimal.RequireFromString("0.2")},
			{Description: "Support", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(25), VATRate: decimal.RequireFromString("0.2")},
		},
	}
	inv.Recurring = models.Recurring{
		Enabled:     true,
		SpecificDay: tpl.SpecificDay,
		CustomDays:  tpl.CustomDays,
		StartDate:   &next,
		NextRunAt:   &next,
		EndDate:     tpl.EndDate,
		Paused:      tpl.Paused,
		AutoSend:    tpl.AutoSend,
		AutoCharge:  tpl.AutoCharge,
	}
	if inv.Recurring.Frequency = tpl.Frequency; inv.Recurring.Frequency == "" {
		inv.Recurring.Frequency = recurrence.MonthlyFirstDay
	}
	inv.Amount = inv.ComputeAmount()
	if err := conn.Create(inv).Error; err != nil {
		t.Fatalf("create template: %v", err)
	}
	return inv
}

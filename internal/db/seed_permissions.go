package db

import (
	"errors"

	"github.com/diewo77/recurring-invoices/internal/models"
	"gorm.io/gorm"
)

type permissionSeed struct {
	ResourceType string
	Action       string
	Description  string
}

// corePermissions lists every resource:action pair the API checks.
var corePermissions = []permissionSeed{
	// Superadmin wildcard
	{"*", "*", "Full system access"},
	// Invoice permissions
	{"invoice", "*", "All invoice actions"},
	{"invoice", "list", "List invoices"},
	{"invoice", "view", "View invoice details"},
	{"invoice", "create", "Create invoices"},
	{"invoice", "update", "Edit invoices"},
	{"invoice", "delete", "Delete invoices"},
	// Recurring schedules
	{"recurring", "*", "All recurring schedule actions"},
	{"recurring", "view", "View schedules and run history"},
	{"recurring", "update", "Pause, resume or stop schedules"},
	// Client permissions
	{"client", "*", "All client actions"},
	{"client", "list", "List clients"},
	{"client", "view", "View client details"},
	{"client", "create", "Create clients"},
	{"client", "update", "Edit clients"},
	{"client", "delete", "Delete clients"},
	// Company settings
	{"company", "*", "All company settings"},
	{"company", "view", "View company settings"},
	{"company", "update", "Edit company settings"},
	// Scheduler operations
	{"scheduler", "run", "Trigger a scheduler pass"},
}

// SeedPermissions creates the core permissions for the application.
// Called during initial database setup or migration.
func SeedPermissions(db *gorm.DB) error {
	for _, p := range corePermissions {
		perm := models.Permission{
			ResourceType: p.ResourceType,
			Action:       p.Action,
			Description:  p.Description,
		}
		// Use FirstOrCreate to avoid duplicates
		result := db.Where("resource_type = ? AND action = ?", p.ResourceType, p.Action).
			FirstOrCreate(&perm)
		if result.Error != nil {
			return result.Error
		}
	}
	return nil
}

type profileSeed struct {
	Name        string
	Description string
	Permissions []string // "resource:action" format
}

var defaultProfiles = []profileSeed{
	{
		Name:        "admin",
		Description: "Full system administrator with all permissions",
		Permissions: []string{"*:*"},
	},
	{
		Name:        "viewer",
		Description: "Read-only access to all resources",
		Permissions: []string{
			"invoice:list",
			"invoice:view",
			"recurring:view",
			"client:list",
			"client:view",
			"company:view",
		},
	},
	{
		Name:        "accountant",
		Description: "Manage invoices, schedules and clients",
		Permissions: []string{
			"invoice:*",
			"recurring:*",
			"client:*",
			"company:view",
		},
	},
}

// SeedProfiles creates the default system profiles with their permissions.
func SeedProfiles(db *gorm.DB) error {
	// First ensure permissions exist
	if err := SeedPermissions(db); err != nil {
		return err
	}

	for _, p := range defaultProfiles {
		var profile models.Profile
		result := db.Where("name = ?", p.Name).First(&profile)
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			profile = models.Profile{
				Name:        p.Name,
				Description: p.Description,
				IsSystem:    true,
			}
			if err := db.Create(&profile).Error; err != nil {
				return err
			}
		}

		var perms []models.Permission
		for _, code := range p.Permissions {
			resource, action, ok := models.SplitCode(code)
			if !ok {
				continue
			}
			var perm models.Permission
			if err := db.Where("resource_type = ? AND action = ?", resource, action).First(&perm).Error; err == nil {
				perms = append(perms, perm)
			}
		}
		if err := db.Model(&profile).Association("Permissions").Replace(perms); err != nil {
			return err
		}
	}
	return nil
}

package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/stanstork/herald/internal/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// sortColumns whitelists the columns a listing may be ordered by.
var sortColumns = map[string]struct{}{
	"created_at": {},
	"title":      {},
	"type":       {},
	"severity":   {},
	"status":     {},
}

type ListFilter struct {
	Type          models.NotificationType
	Severity      models.NotificationSeverity
	Status        models.NotificationStatus
	RecipientID   string
	RecipientType models.RecipientType
	StartDate     *time.Time
	EndDate       *time.Time
	Limit         int
	Offset        int
	SortBy        string
	SortOrder     string
}

// Normalize clamps paging and falls back to created_at DESC for unknown
// sort settings.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		f.SortBy = "created_at"
	}
	f.SortOrder = strings.ToUpper(strings.TrimSpace(f.SortOrder))
	if f.SortOrder != "ASC" {
		f.SortOrder = "DESC"
	}
	return f
}

// ValidSortBy reports whether column is an accepted sort key.
func ValidSortBy(column string) bool {
	_, ok := sortColumns[column]
	return ok
}

// whereClause renders the filter as a SQL predicate with positional args
// starting at $1. An empty filter yields "TRUE".
func (f ListFilter) whereClause() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.RecipientID != "" {
		add("recipient_id = $%d", f.RecipientID)
	}
	if f.RecipientType != "" {
		add("recipient_type = $%d", string(f.RecipientType))
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	if len(conds) == 0 {
		return "TRUE", args
	}
	return strings.Join(conds, " AND "), args
}

// matches applies the same predicate as whereClause to an in-memory record.
func (f ListFilter) matches(n models.Notification) bool {
	switch {
	case f.Type != "" && n.Type != f.Type:
		return false
	case f.Severity != "" && n.Severity != f.Severity:
		return false
	case f.Status != "" && n.Status != f.Status:
		return false
	case f.RecipientID != "" && (n.RecipientID == nil || *n.RecipientID != f.RecipientID):
		return false
	case f.RecipientType != "" && n.RecipientType != f.RecipientType:
		return false
	case f.StartDate != nil && n.CreatedAt.Before(*f.StartDate):
		return false
	case f.EndDate != nil && n.CreatedAt.After(*f.EndDate):
		return false
	}
	return true
}

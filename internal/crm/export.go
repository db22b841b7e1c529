package crm

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

var exportHeader = []string{
	"ID", "First Name", "Last Name", "Email", "Phone", "Language",
	"Segment", "Score", "Priority", "Status", "Source", "Budget",
	"Timeframe", "Locations", "Property Types", "Assigned Agent",
	"Claimed", "Created At",
}

// ExportCSV writes the leads matching f as CSV
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, f store.LeadFilter) (int, error) {
	leads, err := s.store.ExportLeads(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("export leads: %w", err)
	}
	if err := WriteLeadsCSV(w, leads); err != nil {
		return 0, err
	}
	return len(leads), nil
}

// WriteLeadsCSV writes leads as RFC 4180 CSV with a header row
func WriteLeadsCSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, l := range leads {
		if err := cw.Write(leadRecord(l)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func leadRecord(l model.Lead) []string {
	created := ""
	if !l.CreatedAt.IsZero() {
		created = l.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		l.ID,
		l.FirstName,
		l.LastName,
		strOr(l.Email, ""),
		fullPhone(l),
		l.Language,
		string(l.LeadSegment),
		strconv.Itoa(l.CurrentLeadScore),
		string(l.LeadPriority),
		l.LeadStatus,
		l.LeadSource,
		strOr(l.BudgetRange, ""),
		strOr(l.Timeframe, ""),
		strings.Join(l.LocationPreference, "; "),
		strings.Join(l.PropertyType, "; "),
		strOr(l.AssignedAgentID, ""),
		strconv.FormatBool(l.LeadClaimed),
		created,
	}
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/model"
)

// arrays are cast to text and parsed by parseTextArray
const exportLeadsQuery = `
SELECT id, first_name, last_name, phone_number, country_prefix, email, language,
       lead_source, lead_segment, current_lead_score, lead_priority, lead_status,
       budget_range, timeframe, property_type::text, location_preference::text,
       assigned_agent_id, lead_claimed, archived, created_at
FROM crm_leads`

// ExportLeads returns leads for CSV export. It reads through the direct
// connection when one is open and falls back to REST otherwise.
func (c *Client) ExportLeads(ctx context.Context, f LeadFilter) ([]model.Lead, error) {
	if c.db == nil {
		return c.ListLeads(ctx, f)
	}
	leads, err := c.exportLeadsSQL(ctx, f)
	if err != nil {
		c.logger.Warn("direct export failed, falling back to REST", zap.Error(err))
		return c.ListLeads(ctx, f)
	}
	return leads, nil
}

func (c *Client) exportLeadsSQL(ctx context.Context, f LeadFilter) ([]model.Lead, error) {
	query, args := buildExportQuery(f)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var (
			l                           model.Lead
			prefix, email, source       sql.NullString
			segment, priority, status   sql.NullString
			budget, timeframe, assigned sql.NullString
			score                       sql.NullInt64
			propertyTypes, locations    sql.NullString
			createdAt                   time.Time
		)
		if err := rows.Scan(
			&l.ID, &l.FirstName, &l.LastName, &l.PhoneNumber, &prefix, &email, &l.Language,
			&source, &segment, &score, &priority, &status,
			&budget, &timeframe, &propertyTypes, &locations,
			&assigned, &l.LeadClaimed, &l.Archived, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		l.CountryPrefix = prefix.String
		l.Email = nullString(email)
		l.LeadSource = source.String
		l.LeadSegment = model.Segment(segment.String)
		l.CurrentLeadScore = int(score.Int64)
		l.LeadPriority = model.Priority(priority.String)
		l.LeadStatus = status.String
		l.BudgetRange = nullString(budget)
		l.Timeframe = nullString(timeframe)
		l.PropertyType = parseTextArray(propertyTypes.String)
		l.LocationPreference = parseTextArray(locations.String)
		l.AssignedAgentID = nullString(assigned)
		l.CreatedAt = createdAt
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}

func buildExportQuery(f LeadFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Language != "" {
		add("language = $%d", f.Language)
	}
	if f.Segment != "" {
		add("lead_segment = $%d", f.Segment)
	}
	if f.Status != "" {
		add("lead_status = $%d", f.Status)
	}
	if f.AssignedAgentID != "" {
		add("assigned_agent_id = $%d", f.AssignedAgentID)
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= $%d", f.CreatedFrom.UTC())
	}
	if !f.CreatedTo.IsZero() {
		add("created_at <= $%d", f.CreatedTo.UTC())
	}
	if !f.IncludeArchived {
		where = append(where, "archived = false")
	}

	query := exportLeadsQuery
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}
	return query, args
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// parseTextArray reads a Postgres text[] literal such as {a,"b c"}
func parseTextArray(s string) []string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []string{}
	}

	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range body {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	out = append(out, cur.String())
	return out
}

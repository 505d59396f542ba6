package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const auditColumns = `id, actor_id, action, resource_type, resource_id, outcome, reason,
	changes, ip, user_agent, created_at`

// AppendAudit inserts r. Audit rows are never updated or deleted.
func (q *Queries) AppendAudit(ctx context.Context, r *AuditRecord) error {
	_, err := q.exec(ctx, `INSERT INTO audit_logs (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ActorID, r.Action, r.ResourceType, r.ResourceID, r.Outcome, r.Reason,
		r.Changes, r.IP, r.UserAgent, toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

// AuditFilter narrows ListAudit. Zero fields match everything.
type AuditFilter struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// ListAudit returns one page of records, newest first, and the total
// number of matches.
func (q *Queries) ListAudit(ctx context.Context, f AuditFilter) ([]*AuditRecord, int, error) {
	var (
		where []string
		args  []any
	)
	eq := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	eq("actor_id", f.ActorID)
	eq("action", f.Action)
	eq("resource_type", f.ResourceType)
	eq("resource_id", f.ResourceID)
	eq("outcome", f.Outcome)
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, toMillis(f.To))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.get(ctx, &total, `SELECT COUNT(*) FROM audit_logs`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("store: count audit: %w", err)
	}

	var rows []auditRow
	err := q.selectAll(ctx, &rows, `SELECT `+auditColumns+` FROM audit_logs`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list audit: %w", err)
	}
	out := make([]*AuditRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, &AuditRecord{
			ID:           r.ID,
			ActorID:      r.ActorID,
			Action:       r.Action,
			ResourceType: r.ResourceType,
			ResourceID:   r.ResourceID,
			Outcome:      r.Outcome,
			Reason:       r.Reason,
			Changes:      r.Changes,
			IP:           r.IP,
			UserAgent:    r.UserAgent,
			CreatedAt:    fromMillis(r.CreatedAt),
		})
	}
	return out, total, nil
}

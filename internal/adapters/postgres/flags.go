package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

var (
	_ ports.FlagRepository     = (*DB)(nil)
	_ ports.EvidenceRepository = (*DB)(nil)
	_ ports.ActionRepository   = (*DB)(nil)
)

const flagColumns = `id, entity_ref, category, severity, status, confidence, title, description,
	owner_id, snoozed_until, first_detected_at, last_updated_at, explainer`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlag(row rowScanner) (*domain.RedFlag, error) {
	var (
		f         domain.RedFlag
		explainer []byte
	)
	err := row.Scan(&f.ID, &f.EntityRef, &f.Category, &f.Severity, &f.Status, &f.Confidence,
		&f.Title, &f.Description, &f.OwnerID, &f.SnoozedUntil, &f.FirstDetectedAt, &f.LastUpdatedAt, &explainer)
	if err != nil {
		return nil, err
	}
	if len(explainer) > 0 {
		f.Explainer = &domain.Explainer{}
		if err := json.Unmarshal(explainer, f.Explainer); err != nil {
			return nil, fmt.Errorf("decode explainer of %s: %w", f.ID, err)
		}
	}
	return &f, nil
}

func explainerJSON(e *domain.Explainer) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal(e)
}

func (db *DB) Create(ctx context.Context, f *domain.RedFlag) error {
	explainer, err := explainerJSON(f.Explainer)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO red_flags (id, entity_ref, category, severity, severity_rank, status, confidence,
			title, description, owner_id, snoozed_until, first_detected_at, last_updated_at, explainer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, f.ID, f.EntityRef, f.Category, f.Severity, f.Severity.Rank(), f.Status, f.Confidence,
		f.Title, f.Description, f.OwnerID, f.SnoozedUntil, f.FirstDetectedAt, f.LastUpdatedAt, explainer)
	if pgCode(err) == codeUniqueViolation {
		return domain.Errorf(domain.KindConflict, "flag %s already exists", f.ID)
	}
	return err
}

func (db *DB) Get(ctx context.Context, id string) (*domain.RedFlag, error) {
	f, err := scanFlag(db.Pool.QueryRow(ctx, `SELECT `+flagColumns+` FROM red_flags WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("flag", id, err)
	}
	return f, nil
}

// sortColumns whitelists ORDER BY expressions. Absent confidence sorts below
// any value in both directions, matching domain.FlagQuery.Less.
var sortColumns = map[domain.SortField][2]string{
	domain.SortDetectedAt: {"first_detected_at ASC", "first_detected_at DESC"},
	domain.SortUpdatedAt:  {"last_updated_at ASC", "last_updated_at DESC"},
	domain.SortSeverity:   {"severity_rank ASC", "severity_rank DESC"},
	domain.SortConfidence: {"confidence ASC NULLS FIRST", "confidence DESC NULLS LAST"},
}

func orderBy(q domain.FlagQuery) string {
	cols, ok := sortColumns[q.Sort]
	if !ok {
		cols = sortColumns[domain.SortDetectedAt]
	}
	if q.Descending {
		return cols[1] + ", id DESC"
	}
	return cols[0] + ", id ASC"
}

// buildFlagWhere translates a filter into a WHERE clause with numbered
// placeholders starting at $1.
func buildFlagWhere(f domain.FlagFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Categories) > 0 {
		conds = append(conds, "category = ANY("+arg(toStrings(f.Categories))+")")
	}
	if len(f.Severities) > 0 {
		conds = append(conds, "severity = ANY("+arg(toStrings(f.Severities))+")")
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(toStrings(f.Statuses))+")")
	}
	if f.EntityRef != "" {
		conds = append(conds, "lower(entity_ref) = lower("+arg(f.EntityRef)+")")
	}
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = "+arg(f.OwnerID))
	}
	if f.DetectedFrom != nil {
		conds = append(conds, "first_detected_at >= "+arg(*f.DetectedFrom))
	}
	if f.DetectedTo != nil {
		conds = append(conds, "first_detected_at <= "+arg(*f.DetectedTo))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		conds = append(conds, "strpos(lower(title || E'\\n' || description || E'\\n' || entity_ref), lower("+arg(q)+")) > 0")
	}
	if !f.IncludeSnoozed {
		at := f.ActiveAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		conds = append(conds, "(snoozed_until IS NULL OR snoozed_until <= "+arg(at)+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func (db *DB) List(ctx context.Context, q domain.FlagQuery) ([]*domain.RedFlag, int, error) {
	q = q.Normalize()
	where, args := buildFlagWhere(q.Filter)

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM red_flags`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	sql := fmt.Sprintf(`SELECT %s FROM red_flags%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		flagColumns, where, orderBy(q), n+1, n+2)
	rows, err := db.Pool.Query(ctx, sql, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]*domain.RedFlag, 0, q.Limit)
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

func (db *DB) Count(ctx context.Context, filter domain.FlagFilter) (int, error) {
	where, args := buildFlagWhere(filter)
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM red_flags`+where, args...).Scan(&n)
	return n, err
}

// Each streams matching flags newest first without loading them all.
func (db *DB) Each(ctx context.Context, filter domain.FlagFilter, fn func(*domain.RedFlag) error) error {
	where, args := buildFlagWhere(filter)
	rows, err := db.Pool.Query(ctx, `SELECT `+flagColumns+` FROM red_flags`+where+
		` ORDER BY `+orderBy(domain.FlagQuery{Sort: domain.SortDetectedAt, Descending: true}), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Mutate locks the flag row for the life of the transaction so concurrent
// commands on one flag apply one at a time, each against the latest state.
func (db *DB) Mutate(ctx context.Context, id string, fn ports.MutateFunc) (*domain.RedFlag, *domain.Action, error) {
	var (
		flag   *domain.RedFlag
		action *domain.Action
	)
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		f, err := scanFlag(tx.QueryRow(ctx, `SELECT `+flagColumns+` FROM red_flags WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound("flag", id, err)
		}
		a, err := fn(f)
		if err != nil {
			return err
		}
		f.ID = id
		explainer, err := explainerJSON(f.Explainer)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE red_flags SET entity_ref=$2, category=$3, severity=$4, severity_rank=$5, status=$6,
				confidence=$7, title=$8, description=$9, owner_id=$10, snoozed_until=$11,
				last_updated_at=$12, explainer=$13
			WHERE id = $1
		`, id, f.EntityRef, f.Category, f.Severity, f.Severity.Rank(), f.Status,
			f.Confidence, f.Title, f.Description, f.OwnerID, f.SnoozedUntil, f.LastUpdatedAt, explainer)
		if err != nil {
			return err
		}
		if a != nil {
			if err := insertAction(ctx, tx, id, a); err != nil {
				return err
			}
		}
		flag, action = f, a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return flag, action, nil
}

func insertAction(ctx context.Context, tx pgx.Tx, flagID string, a *domain.Action) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return err
	}
	a.FlagID = flagID
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO flag_actions (id, flag_id, actor_id, action_type, action_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`, a.ID, flagID, a.ActorID, a.Type, data, a.CreatedAt).Scan(&a.Seq)
}

func (db *DB) ListActions(ctx context.Context, flagID string) ([]domain.Action, error) {
	if err := db.flagExists(ctx, flagID); err != nil {
		return nil, err
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT seq, id, flag_id, actor_id, action_type, action_data, created_at
		FROM flag_actions WHERE flag_id = $1
		ORDER BY created_at, seq
	`, flagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Action{}
	for rows.Next() {
		var (
			a   domain.Action
			raw []byte
		)
		if err := rows.Scan(&a.Seq, &a.ID, &a.FlagID, &a.ActorID, &a.Type, &raw, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Data, err = domain.DecodeActionData(a.Type, raw); err != nil {
			return nil, fmt.Errorf("decode action %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) AddEvidence(ctx context.Context, ev *domain.Evidence) error {
	citation, err := json.Marshal(ev.Citation)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO flag_evidence (id, flag_id, evidence_type, citation, description, confidence, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.FlagID, ev.Type, citation, ev.Description, ev.Confidence, ev.CollectedAt)
	if pgCode(err) == codeForeignKeyViolation {
		return domain.Errorf(domain.KindNotFound, "flag %s not found", ev.FlagID)
	}
	return err
}

func (db *DB) ListEvidence(ctx context.Context, flagID string) ([]domain.Evidence, error) {
	if err := db.flagExists(ctx, flagID); err != nil {
		return nil, err
	}
	out := []domain.Evidence{}
	err := db.queryEvidence(ctx, func(ev domain.Evidence) { out = append(out, ev) }, `
		SELECT `+evidenceColumns+`
		FROM flag_evidence WHERE flag_id = $1
		ORDER BY seq
	`, flagID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) EvidenceFor(ctx context.Context, flagIDs []string) (map[string][]domain.Evidence, error) {
	out := make(map[string][]domain.Evidence, len(flagIDs))
	if len(flagIDs) == 0 {
		return out, nil
	}
	err := db.queryEvidence(ctx, func(ev domain.Evidence) { out[ev.FlagID] = append(out[ev.FlagID], ev) }, `
		SELECT `+evidenceColumns+`
		FROM flag_evidence WHERE flag_id = ANY($1)
		ORDER BY flag_id, seq
	`, flagIDs)
	if err != nil {
		return nil, err
	}
	return out, nil
}

const evidenceColumns = `id, flag_id, evidence_type, citation, description, confidence, collected_at`

func (db *DB) queryEvidence(ctx context.Context, fn func(domain.Evidence), sql string, args ...any) error {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev  domain.Evidence
			raw []byte
		)
		if err := rows.Scan(&ev.ID, &ev.FlagID, &ev.Type, &raw, &ev.Description, &ev.Confidence, &ev.CollectedAt); err != nil {
			return err
		}
		if ev.Citation, err = domain.DecodeCitation(ev.Type, raw); err != nil {
			return fmt.Errorf("decode evidence %s: %w", ev.ID, err)
		}
		fn(ev)
	}
	return rows.Err()
}

func (db *DB) flagExists(ctx context.Context, id string) error {
	var one int
	err := db.Pool.QueryRow(ctx, `SELECT 1 FROM red_flags WHERE id = $1`, id).Scan(&one)
	return notFound("flag", id, err)
}

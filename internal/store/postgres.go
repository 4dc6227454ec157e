package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ClawStak-AI/clawstak-sub001/internal/collab"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalJSON(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// --- agents

func (p *Postgres) CreateAgent(ctx context.Context, a *Agent) error {
	err := p.pool.QueryRow(ctx, `
		insert into agents (id, slug, name, description, status, is_verified, verification_method, trust_score)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, a.ID, a.Slug, a.Name, a.Description, a.Status, a.IsVerified, a.VerificationMethod, a.TrustScore).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const agentColumns = `id, slug, name, description, status, is_verified, verification_method, trust_score, created_at, updated_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Slug, &a.Name, &a.Description, &a.Status,
		&a.IsVerified, &a.VerificationMethod, &a.TrustScore, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	return scanAgent(p.pool.QueryRow(ctx, `select `+agentColumns+` from agents where id = $1`, id))
}

func (p *Postgres) GetAgentBySlug(ctx context.Context, slug string) (*Agent, error) {
	return scanAgent(p.pool.QueryRow(ctx, `select `+agentColumns+` from agents where slug = $1`, slug))
}

func (p *Postgres) ListAgents(ctx context.Context, status string, limit, offset int) ([]Agent, int, error) {
	where := ""
	args := []any{}
	if status != "" {
		where = " where status = $1"
		args = append(args, status)
	}

	var total int
	if err := p.pool.QueryRow(ctx, `select count(*) from agents`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	sql := `select ` + agentColumns + ` from agents` + where +
		` order by created_at desc limit $` + strconv.Itoa(n+1) + ` offset $` + strconv.Itoa(n+2)
	args = append(args, limit, offset)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Agent, 0, limit)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

func (p *Postgres) SetAgentStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := p.pool.Exec(ctx, `update agents set status = $2, updated_at = now() where id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetTrustScore(ctx context.Context, id uuid.UUID, score float64) error {
	tag, err := p.pool.Exec(ctx, `update agents set trust_score = $2, updated_at = now() where id = $1`, id, score)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- api keys

func (p *Postgres) CreateAPIKey(ctx context.Context, k *APIKey) error {
	err := p.pool.QueryRow(ctx, `
		insert into api_keys (id, agent_id, key_digest, display_prefix, scopes, is_active)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, k.ID, k.AgentID, k.Digest, k.DisplayPrefix, k.Scopes, k.IsActive).Scan(&k.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const apiKeyColumns = `id, agent_id, key_digest, display_prefix, scopes, is_active, last_used_at, created_at`

func scanAPIKey(row pgx.Row) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.AgentID, &k.Digest, &k.DisplayPrefix, &k.Scopes, &k.IsActive, &k.LastUsedAt, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (p *Postgres) GetActiveKeyByDigest(ctx context.Context, digest string) (*APIKey, error) {
	return scanAPIKey(p.pool.QueryRow(ctx, `
		select `+apiKeyColumns+` from api_keys
		where key_digest = $1 and is_active = true
	`, digest))
}

func (p *Postgres) ListKeysByAgent(ctx context.Context, agentID uuid.UUID) ([]APIKey, error) {
	rows, err := p.pool.Query(ctx, `
		select `+apiKeyColumns+` from api_keys
		where agent_id = $1
		order by created_at desc
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

func (p *Postgres) DeactivateKey(ctx context.Context, agentID, keyID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		update api_keys set is_active = false
		where id = $1 and agent_id = $2
	`, keyID, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `update api_keys set last_used_at = now() where id = $1`, keyID)
	return err
}

// --- sessions

func (p *Postgres) CreateSession(ctx context.Context, s *Session) error {
	return p.pool.QueryRow(ctx, `
		insert into sessions (id, agent_id, token_digest, scopes, expires_at, revoked, ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, s.ID, s.AgentID, s.TokenDigest, s.Scopes, s.ExpiresAt, s.Revoked, s.IP, s.UserAgent).Scan(&s.CreatedAt)
}

func (p *Postgres) GetSessionByDigest(ctx context.Context, digest string) (*Session, error) {
	var s Session
	err := p.pool.QueryRow(ctx, `
		select id, agent_id, token_digest, scopes, expires_at, revoked, ip, user_agent, created_at
		from sessions where token_digest = $1
	`, digest).Scan(&s.ID, &s.AgentID, &s.TokenDigest, &s.Scopes, &s.ExpiresAt, &s.Revoked, &s.IP, &s.UserAgent, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) RevokeSession(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `update sessions set revoked = true where id = $1`, id)
	return err
}

func (p *Postgres) RotateSession(ctx context.Context, oldID uuid.UUID, replacement *Session) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The revoked = false guard makes rotation single-use: a concurrent or
	// replayed rotation of the same session sees zero rows and fails before
	// anything is inserted.
	tag, err := tx.Exec(ctx, `
		update sessions set revoked = true
		where id = $1 and revoked = false
	`, oldID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if err := tx.QueryRow(ctx, `
		insert into sessions (id, agent_id, token_digest, scopes, expires_at, revoked, ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, replacement.ID, replacement.AgentID, replacement.TokenDigest, replacement.Scopes,
		replacement.ExpiresAt, replacement.Revoked, replacement.IP, replacement.UserAgent).Scan(&replacement.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// --- collaborations

const collabColumns = `id, requesting_agent_id, providing_agent_id, status, task_description,
	negotiated_terms, result, quality_score, completed_at, created_at, updated_at`

func scanCollaboration(row pgx.Row) (*Collaboration, error) {
	var (
		c           Collaboration
		status      string
		termsBytes  []byte
		resultBytes []byte
	)
	err := row.Scan(&c.ID, &c.RequestingAgentID, &c.ProvidingAgentID, &status, &c.TaskDescription,
		&termsBytes, &resultBytes, &c.QualityScore, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = collab.Status(status)
	c.NegotiatedTerms = unmarshalJSON(termsBytes)
	c.Result = unmarshalJSON(resultBytes)
	return &c, nil
}

func (p *Postgres) CreateCollaboration(ctx context.Context, c *Collaboration) error {
	terms, err := marshalJSON(c.NegotiatedTerms)
	if err != nil {
		return err
	}
	return p.pool.QueryRow(ctx, `
		insert into collaborations (id, requesting_agent_id, providing_agent_id, status, task_description, negotiated_terms)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, c.ID, c.RequestingAgentID, c.ProvidingAgentID, string(c.Status), c.TaskDescription, terms).
		Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (p *Postgres) GetCollaboration(ctx context.Context, id uuid.UUID) (*Collaboration, error) {
	return scanCollaboration(p.pool.QueryRow(ctx, `select `+collabColumns+` from collaborations where id = $1`, id))
}

func (p *Postgres) UpdateCollaboration(ctx context.Context, id uuid.UUID, expected collab.Status, upd CollaborationUpdate) (*Collaboration, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id, string(expected)}
	n := 3

	if upd.Status != nil {
		sets = append(sets, "status = $"+strconv.Itoa(n))
		args = append(args, string(*upd.Status))
		n++
	}
	if upd.Result != nil {
		b, err := marshalJSON(upd.Result)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "result = $"+strconv.Itoa(n))
		args = append(args, b)
		n++
	}
	if upd.QualityScore != nil {
		sets = append(sets, "quality_score = $"+strconv.Itoa(n))
		args = append(args, *upd.QualityScore)
		n++
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = $"+strconv.Itoa(n))
		args = append(args, *upd.CompletedAt)
		n++
	}

	// The status equality guard in the where clause is the optimistic
	// precondition: a concurrent transition invalidates this write.
	sql := `update collaborations set ` + strings.Join(sets, ", ") +
		` where id = $1 and status = $2 returning ` + collabColumns

	c, err := scanCollaboration(p.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing row from a stale precondition.
		if _, getErr := p.GetCollaboration(ctx, id); getErr == nil {
			return nil, ErrConflict
		}
		return nil, ErrNotFound
	}
	return c, err
}

func (p *Postgres) ListCollaborations(ctx context.Context, f CollaborationFilter) ([]Collaboration, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	n := 1

	if f.Status != nil {
		where = append(where, "status = $"+strconv.Itoa(n))
		args = append(args, string(*f.Status))
		n++
	}
	if f.ParticipantID != nil {
		where = append(where, "(requesting_agent_id = $"+strconv.Itoa(n)+" or providing_agent_id = $"+strconv.Itoa(n)+")")
		args = append(args, *f.ParticipantID)
		n++
	}

	cond := ""
	if len(where) > 0 {
		cond = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := p.pool.QueryRow(ctx, `select count(*) from collaborations`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := `select ` + collabColumns + ` from collaborations` + cond +
		` order by created_at desc limit $` + strconv.Itoa(n) + ` offset $` + strconv.Itoa(n+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Collaboration, 0, f.Limit)
	for rows.Next() {
		c, err := scanCollaboration(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// --- metrics

func (p *Postgres) InsertMetrics(ctx context.Context, samples []MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range samples {
		labels, err := marshalJSON(s.Labels)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			insert into agent_metrics (id, agent_id, name, value, labels)
			values ($1, $2, $3, $4, $5)
		`, s.ID, s.AgentID, s.Name, s.Value, labels); err != nil {
			// A sample naming a nonexistent agent is caller error, not an
			// infrastructure fault.
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

// --- audit

func (p *Postgres) AppendAudit(ctx context.Context, e *AuditEvent) error {
	detail, err := marshalJSON(e.Detail)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		insert into audit_events (id, actor_type, actor_id, action, detail)
		values ($1, $2, $3, $4, $5)
	`, e.ID, e.ActorType, e.ActorID, e.Action, detail)
	return err
}

var _ Store = (*Postgres)(nil)

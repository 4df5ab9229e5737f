package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist/internal/db"
	"github.com/sells-group/saleslist/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS clients (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS companies (
	id                        BIGSERIAL PRIMARY KEY,
	name                      TEXT NOT NULL,
	normalized_name           TEXT NOT NULL,
	industry_id               BIGINT,
	prefecture                TEXT NOT NULL DEFAULT '',
	employee_count            INTEGER,
	revenue                   BIGINT,
	established_year          INTEGER,
	website_url               TEXT NOT NULL DEFAULT '',
	contact_email             TEXT NOT NULL DEFAULT '',
	phone                     TEXT NOT NULL DEFAULT '',
	is_global_ng              BOOLEAN NOT NULL DEFAULT false,
	ai_last_enrichment_status TEXT CHECK (ai_last_enrichment_status IN ('', 'success', 'partial', 'failed', 'skipped')),
	next_retry_strategy       TEXT CHECK (next_retry_strategy IN ('', 'none', 'relax_prefecture', 'name_variant_expansion', 'english_name_search', 'official_site_focused')),
	ai_last_enriched_at       TIMESTAMPTZ,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_normalized_name ON companies(normalized_name);
CREATE INDEX IF NOT EXISTS idx_companies_enrichment_status ON companies(ai_last_enrichment_status);

CREATE TABLE IF NOT EXISTS projects (
	id         BIGSERIAL PRIMARY KEY,
	client_id  BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_companies (
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	company_id BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT '未接触',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project_id, company_id)
);

CREATE INDEX IF NOT EXISTS idx_project_companies_company_id ON project_companies(company_id);

CREATE TABLE IF NOT EXISTS client_ng_companies (
	id              BIGSERIAL PRIMARY KEY,
	client_id       BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	company_id      BIGINT REFERENCES companies(id) ON DELETE SET NULL,
	company_name    TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	matched         BOOLEAN NOT NULL DEFAULT false,
	is_active       BOOLEAN NOT NULL DEFAULT true,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (client_id, company_name)
);

CREATE INDEX IF NOT EXISTS idx_client_ng_companies_company_id ON client_ng_companies(company_id);
CREATE INDEX IF NOT EXISTS idx_client_ng_companies_normalized_name ON client_ng_companies(normalized_name);
CREATE INDEX IF NOT EXISTS idx_client_ng_companies_unmatched ON client_ng_companies(client_id) WHERE NOT matched;
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Companies ---

const pgCompanyColumns = `id, name, industry_id, prefecture, employee_count, revenue, established_year,
	website_url, contact_email, phone, is_global_ng,
	COALESCE(ai_last_enrichment_status, ''), COALESCE(next_retry_strategy, ''), ai_last_enriched_at,
	created_at, updated_at`

func companyDests(c *model.Company) []any {
	return []any{
		&c.ID, &c.Name, &c.IndustryID, &c.Prefecture, &c.EmployeeCount, &c.Revenue, &c.EstablishedYear,
		&c.WebsiteURL, &c.ContactEmail, &c.Phone, &c.IsGlobalNG,
		&c.AILastEnrichmentStatus, &c.NextRetryStrategy, &c.AILastEnrichedAt,
		&c.CreatedAt, &c.UpdatedAt,
	}
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company) (*model.Company, error) {
	out := *c
	now := time.Now().UTC()
	out.CreatedAt, out.UpdatedAt = now, now

	err := s.pool.QueryRow(ctx,
		`INSERT INTO companies (name, normalized_name, industry_id, prefecture, employee_count, revenue,
			established_year, website_url, contact_email, phone, is_global_ng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		out.Name, out.NormalizedName(), out.IndustryID, out.Prefecture, out.EmployeeCount, out.Revenue,
		out.EstablishedYear, out.WebsiteURL, out.ContactEmail, out.Phone, out.IsGlobalNG, now, now,
	).Scan(&out.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert company")
	}
	return &out, nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET name = $1, normalized_name = $2, industry_id = $3, prefecture = $4,
			employee_count = $5, revenue = $6, established_year = $7, website_url = $8,
			contact_email = $9, phone = $10, is_global_ng = $11, updated_at = $12
		WHERE id = $13`,
		c.Name, c.NormalizedName(), c.IndustryID, c.Prefecture, c.EmployeeCount, c.Revenue,
		c.EstablishedYear, c.WebsiteURL, c.ContactEmail, c.Phone, c.IsGlobalNG, time.Now().UTC(), c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update company %d", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update company %d", c.ID)
	}
	return nil
}

// DeleteCompany removes the company and, in the same transaction, releases
// every NG entry bound to it.
func (s *PostgresStore) DeleteCompany(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: delete company: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE client_ng_companies SET company_id = NULL, matched = false, updated_at = $1 WHERE company_id = $2`,
		time.Now().UTC(), id,
	); err != nil {
		return eris.Wrapf(err, "postgres: unbind ng entries of company %d", id)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete company %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: delete company %d", id)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: delete company: commit")
}

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	var c model.Company
	err := s.pool.QueryRow(ctx,
		`SELECT `+pgCompanyColumns+` FROM companies WHERE id = $1`, id,
	).Scan(companyDests(&c)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get company %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get company %d", id)
	}
	return &c, nil
}

func (s *PostgresStore) ListCompaniesForEnrichment(ctx context.Context, limit int) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCompanyColumns+` FROM companies
		WHERE COALESCE(ai_last_enrichment_status, '') IN ('', 'skipped')
			OR (ai_last_enrichment_status IN ('partial', 'failed') AND COALESCE(next_retry_strategy, '') <> 'none')
		ORDER BY ai_last_enriched_at IS NOT NULL, ai_last_enriched_at, id
		LIMIT $1`, pgLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies for enrichment")
	}
	return collectCompanies(rows)
}

func collectCompanies(rows pgx.Rows) ([]model.Company, error) {
	defer rows.Close()
	var out []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(companyDests(&c)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

// pgLimit maps a non-positive limit to NULL, which Postgres reads as no limit.
func pgLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// --- Clients and projects ---

func (s *PostgresStore) CreateClient(ctx context.Context, name string) (*model.Client, error) {
	c := model.Client{Name: name, CreatedAt: time.Now().UTC()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO clients (name, created_at) VALUES ($1, $2) RETURNING id`, c.Name, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert client")
	}
	return &c, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, id int64) (*model.Client, error) {
	var c model.Client
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM clients WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get client %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get client %d", id)
	}
	return &c, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, clientID int64, name string) (*model.Project, error) {
	p := model.Project{ClientID: clientID, Name: name, CreatedAt: time.Now().UTC()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (client_id, name, created_at) VALUES ($1, $2, $3) RETURNING id`,
		p.ClientID, p.Name, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert project")
	}
	return &p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, name, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.ClientID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get project %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get project %d", id)
	}
	return &p, nil
}

func (s *PostgresStore) ListAvailableCompanies(ctx context.Context, projectID int64, page Page) ([]model.Company, int, error) {
	const notInProject = ` FROM companies WHERE NOT EXISTS (
		SELECT 1 FROM project_companies pc WHERE pc.project_id = $1 AND pc.company_id = companies.id)`

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*)`+notInProject, projectID).Scan(&count); err != nil {
		return nil, 0, eris.Wrapf(err, "postgres: count available companies for project %d", projectID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCompanyColumns+notInProject+` ORDER BY id LIMIT $2 OFFSET $3`,
		projectID, pgLimit(page.Limit), max(page.Offset, 0),
	)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "postgres: list available companies for project %d", projectID)
	}
	companies, err := collectCompanies(rows)
	if err != nil {
		return nil, 0, err
	}
	return companies, count, nil
}

func (s *PostgresStore) HasProjectCompany(ctx context.Context, projectID, companyID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_companies WHERE project_id = $1 AND company_id = $2)`,
		projectID, companyID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check project %d company %d", projectID, companyID)
	}
	return exists, nil
}

func (s *PostgresStore) AddProjectCompany(ctx context.Context, projectID, companyID int64, status string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_companies (project_id, company_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		projectID, companyID, status, now, now,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrAlreadyAdded, "postgres: add company %d to project %d", companyID, projectID)
		}
		return eris.Wrapf(err, "postgres: add company %d to project %d", companyID, projectID)
	}
	return nil
}

func (s *PostgresStore) ListProjectCompanies(ctx context.Context, projectID int64) ([]model.ProjectCompany, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, company_id, status, created_at FROM project_companies
		WHERE project_id = $1 ORDER BY company_id`, projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list project %d companies", projectID)
	}
	defer rows.Close()

	var out []model.ProjectCompany
	for rows.Next() {
		var pc model.ProjectCompany
		if err := rows.Scan(&pc.ProjectID, &pc.CompanyID, &pc.Status, &pc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project company")
		}
		out = append(out, pc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate project companies")
}

// --- NG entries ---

const ngColumns = `id, client_id, company_id, company_name, reason, matched, is_active, created_at, updated_at`

func ngDests(e *model.NGEntry) []any {
	return []any{
		&e.ID, &e.ClientID, &e.CompanyID, &e.CompanyName, &e.Reason,
		&e.Matched, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
	}
}

func (s *PostgresStore) CreateNGEntry(ctx context.Context, e *model.NGEntry) (*model.NGEntry, error) {
	out := *e
	now := time.Now().UTC()
	out.CreatedAt, out.UpdatedAt = now, now
	out.Matched = false

	err := s.pool.QueryRow(ctx,
		`INSERT INTO client_ng_companies (client_id, company_id, company_name, normalized_name, reason,
			matched, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, $6, $7, $8)
		RETURNING id`,
		out.ClientID, out.CompanyID, out.CompanyName, out.NormalizedName(), out.Reason,
		out.IsActive, now, now,
	).Scan(&out.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, eris.Wrapf(ErrDuplicateNGEntry, "postgres: insert ng entry %q", out.CompanyName)
		}
		if db.IsForeignKeyViolation(err) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: insert ng entry %q: unknown client or company", out.CompanyName)
		}
		return nil, eris.Wrap(err, "postgres: insert ng entry")
	}
	return &out, nil
}

func (s *PostgresStore) GetNGEntry(ctx context.Context, id int64) (*model.NGEntry, error) {
	var e model.NGEntry
	err := s.pool.QueryRow(ctx,
		`SELECT `+ngColumns+` FROM client_ng_companies WHERE id = $1`, id,
	).Scan(ngDests(&e)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get ng entry %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get ng entry %d", id)
	}
	return &e, nil
}

func (s *PostgresStore) ListNGEntries(ctx context.Context, clientID int64) ([]model.NGEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ngColumns+` FROM client_ng_companies WHERE client_id = $1 ORDER BY id`, clientID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list ng entries for client %d", clientID)
	}
	return collectNGEntries(rows)
}

func (s *PostgresStore) ListNGCandidates(ctx context.Context, clientID, companyID int64, normalizedName string) ([]model.NGEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ngColumns+` FROM client_ng_companies
		WHERE client_id = $1 AND is_active
			AND ((matched AND company_id = $2) OR normalized_name = $3)
		ORDER BY id`,
		clientID, companyID, normalizedName,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list ng candidates for client %d", clientID)
	}
	return collectNGEntries(rows)
}

func collectNGEntries(rows pgx.Rows) ([]model.NGEntry, error) {
	defer rows.Close()
	var out []model.NGEntry
	for rows.Next() {
		var e model.NGEntry
		if err := rows.Scan(ngDests(&e)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ng entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate ng entries")
}

func (s *PostgresStore) DeleteNGEntry(ctx context.Context, clientID, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM client_ng_companies WHERE id = $1 AND client_id = $2`, id, clientID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete ng entry %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: delete ng entry %d", id)
	}
	return nil
}

func (s *PostgresStore) SetNGEntryActive(ctx context.Context, clientID, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE client_ng_companies SET is_active = $1, updated_at = $2 WHERE id = $3 AND client_id = $4`,
		active, time.Now().UTC(), id, clientID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set ng entry %d active", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: set ng entry %d active", id)
	}
	return nil
}

func (s *PostgresStore) ListUnmatchedNGEntryIDs(ctx context.Context, clientID *int64) ([]int64, error) {
	return s.queryIDs(ctx, "list unmatched ng entries",
		`SELECT id FROM client_ng_companies
		WHERE is_active AND (company_id IS NULL OR NOT matched) AND ($1::bigint IS NULL OR client_id = $1)
		ORDER BY id`, clientID)
}

func (s *PostgresStore) ListNGEntryIDsByName(ctx context.Context, normalizedName string) ([]int64, error) {
	return s.queryIDs(ctx, "list ng entries by name",
		`SELECT id FROM client_ng_companies
		WHERE is_active AND NOT matched AND normalized_name = $1
		ORDER BY id`, normalizedName)
}

func (s *PostgresStore) ListNGEntryIDsByCompany(ctx context.Context, companyID int64) ([]int64, error) {
	return s.queryIDs(ctx, "list ng entries by company",
		`SELECT id FROM client_ng_companies WHERE company_id = $1 ORDER BY id`, companyID)
}

func (s *PostgresStore) queryIDs(ctx context.Context, op, sql string, args ...any) ([]int64, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrapf(rows.Err(), "postgres: %s: iterate", op)
}

func (s *PostgresStore) UnbindNGEntries(ctx context.Context, companyID int64) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE client_ng_companies SET company_id = NULL, matched = false, updated_at = $1 WHERE company_id = $2`,
		time.Now().UTC(), companyID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: unbind ng entries of company %d", companyID)
	}
	return int(tag.RowsAffected()), nil
}

// LockNGEntry runs fn inside a transaction holding a row lock on the entry.
func (s *PostgresStore) LockNGEntry(ctx context.Context, id int64, fn func(ctx context.Context, e *model.NGEntry, tx NGEntryTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: lock ng entry %d: begin tx", id)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var e model.NGEntry
	err = tx.QueryRow(ctx,
		`SELECT `+ngColumns+` FROM client_ng_companies WHERE id = $1 FOR UPDATE`, id,
	).Scan(ngDests(&e)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: lock ng entry %d", id)
		}
		return eris.Wrapf(err, "postgres: lock ng entry %d", id)
	}

	if err := fn(ctx, &e, &pgNGEntryTx{tx: tx, id: id}); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: lock ng entry %d: commit", id)
}

type pgNGEntryTx struct {
	tx pgx.Tx
	id int64
}

func (t *pgNGEntryTx) FindCompanyIDs(ctx context.Context, normalizedName string, limit int) ([]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id FROM companies WHERE normalized_name = $1 ORDER BY id LIMIT $2`, normalizedName, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find companies by name")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate company ids")
}

func (t *pgNGEntryTx) SetMatch(ctx context.Context, companyID *int64, matched bool) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE client_ng_companies SET company_id = $1, matched = $2, updated_at = $3 WHERE id = $4`,
		companyID, matched, time.Now().UTC(), t.id,
	)
	return eris.Wrapf(err, "postgres: set match on ng entry %d", t.id)
}

var ngImportColumns = []string{
	"client_id", "company_name", "normalized_name", "reason", "matched", "is_active", "created_at", "updated_at",
}

// ImportNGEntries inserts the rows the client does not already have. An
// existing entry with the same company name is left untouched and counted
// as skipped, as are blank and repeated names within the upload.
func (s *PostgresStore) ImportNGEntries(ctx context.Context, clientID int64, rows []NGImportRow) (int, int, error) {
	kept, dropped := dedupeImportRows(rows)
	if len(kept) == 0 {
		return 0, dropped, nil
	}

	now := time.Now().UTC()
	values := make([][]any, len(kept))
	for i, r := range kept {
		values[i] = []any{
			clientID, r.CompanyName, model.NormalizeCompanyName(r.CompanyName), r.Reason, false, true, now, now,
		}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "client_ng_companies",
		Columns:      ngImportColumns,
		ConflictKeys: []string{"client_id", "company_name"},
		DoNothing:    true,
	}, values)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: import ng entries for client %d", clientID)
	}
	return int(n), dropped + len(kept) - int(n), nil
}

// --- Enrichment ---

func (s *PostgresStore) RecordEnrichmentOutcome(ctx context.Context, companyID int64, o EnrichmentOutcome) error {
	if err := o.Validate(); err != nil {
		return eris.Wrapf(err, "postgres: record outcome for company %d", companyID)
	}
	var at *time.Time
	if !o.EnrichedAt.IsZero() {
		t := o.EnrichedAt.UTC()
		at = &t
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET ai_last_enrichment_status = $1, next_retry_strategy = $2,
			ai_last_enriched_at = COALESCE($3::timestamptz, ai_last_enriched_at), updated_at = $4
		WHERE id = $5`,
		string(o.Status), string(o.NextStrategy), at, time.Now().UTC(), companyID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record outcome for company %d", companyID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: record outcome for company %d", companyID)
	}
	return nil
}

func (s *PostgresStore) EnrichmentSummary(ctx context.Context) (*EnrichmentSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(ai_last_enrichment_status, ''), COALESCE(next_retry_strategy, '')
		FROM companies ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enrichment summary")
	}
	defer rows.Close()

	sum := newEnrichmentSummary()
	for rows.Next() {
		var (
			id       int64
			status   model.EnrichmentStatus
			strategy model.RetryStrategy
		)
		if err := rows.Scan(&id, &status, &strategy); err != nil {
			return nil, eris.Wrap(err, "postgres: scan enrichment summary")
		}
		sum.add(id, status, strategy)
	}
	return sum, eris.Wrap(rows.Err(), "postgres: iterate enrichment summary")
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/saleslist/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. The pool is limited to one connection so transactions serialize
// instead of failing with SQLITE_BUSY.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS clients (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS companies (
	id                        INTEGER PRIMARY KEY AUTOINCREMENT,
	name                      TEXT NOT NULL,
	normalized_name           TEXT NOT NULL,
	industry_id               INTEGER,
	prefecture                TEXT NOT NULL DEFAULT '',
	employee_count            INTEGER,
	revenue                   INTEGER,
	established_year          INTEGER,
	website_url               TEXT NOT NULL DEFAULT '',
	contact_email             TEXT NOT NULL DEFAULT '',
	phone                     TEXT NOT NULL DEFAULT '',
	is_global_ng              BOOLEAN NOT NULL DEFAULT 0,
	ai_last_enrichment_status TEXT CHECK (ai_last_enrichment_status IN ('', 'success', 'partial', 'failed', 'skipped')),
	next_retry_strategy       TEXT CHECK (next_retry_strategy IN ('', 'none', 'relax_prefecture', 'name_variant_expansion', 'english_name_search', 'official_site_focused')),
	ai_last_enriched_at       DATETIME,
	created_at                DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at                DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_companies_normalized_name ON companies(normalized_name);

CREATE TABLE IF NOT EXISTS projects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id  INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS project_companies (
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT '未接触',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (project_id, company_id)
);

CREATE TABLE IF NOT EXISTS client_ng_companies (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id       INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	company_id      INTEGER REFERENCES companies(id) ON DELETE SET NULL,
	company_name    TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	matched         BOOLEAN NOT NULL DEFAULT 0,
	is_active       BOOLEAN NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (client_id, company_name)
);

CREATE INDEX IF NOT EXISTS idx_client_ng_companies_company_id ON client_ng_companies(company_id);
CREATE INDEX IF NOT EXISTS idx_client_ng_companies_normalized_name ON client_ng_companies(normalized_name);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isSQLiteUnique reports whether err is a UNIQUE or PRIMARY KEY violation.
func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// isSQLiteForeignKey reports whether err is a FOREIGN KEY violation.
func isSQLiteForeignKey(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// --- Companies ---

const sqliteCompanyColumns = `id, name, industry_id, prefecture, employee_count, revenue, established_year,
	website_url, contact_email, phone, is_global_ng,
	COALESCE(ai_last_enrichment_status, ''), COALESCE(next_retry_strategy, ''), ai_last_enriched_at,
	created_at, updated_at`

func (s *SQLiteStore) CreateCompany(ctx context.Context, c *model.Company) (*model.Company, error) {
	out := *c
	now := time.Now().UTC()
	out.CreatedAt, out.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (name, normalized_name, industry_id, prefecture, employee_count, revenue,
			established_year, website_url, contact_email, phone, is_global_ng, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.Name, out.NormalizedName(), out.IndustryID, out.Prefecture, out.EmployeeCount, out.Revenue,
		out.EstablishedYear, out.WebsiteURL, out.ContactEmail, out.Phone, out.IsGlobalNG, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert company")
	}
	if out.ID, err = res.LastInsertId(); err != nil {
		return nil, eris.Wrap(err, "sqlite: company id")
	}
	return &out, nil
}

func (s *SQLiteStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET name = ?, normalized_name = ?, industry_id = ?, prefecture = ?,
			employee_count = ?, revenue = ?, established_year = ?, website_url = ?,
			contact_email = ?, phone = ?, is_global_ng = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.NormalizedName(), c.IndustryID, c.Prefecture, c.EmployeeCount, c.Revenue,
		c.EstablishedYear, c.WebsiteURL, c.ContactEmail, c.Phone, c.IsGlobalNG, time.Now().UTC(), c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update company %d", c.ID)
	}
	return checkRowsAffected(res, "update company", c.ID)
}

func (s *SQLiteStore) DeleteCompany(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete company: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE client_ng_companies SET company_id = NULL, matched = 0, updated_at = ? WHERE company_id = ?`,
		time.Now().UTC(), id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: unbind ng entries of company %d", id)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete company %d", id)
	}
	if err := checkRowsAffected(res, "delete company", id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: delete company: commit")
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteCompanyColumns+` FROM companies WHERE id = ?`, id)
	c, err := scanCompany(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get company %d", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get company %d", id)
	}
	return c, nil
}

func scanCompany(row scannable) (*model.Company, error) {
	var (
		c        model.Company
		enriched sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.IndustryID, &c.Prefecture, &c.EmployeeCount, &c.Revenue, &c.EstablishedYear,
		&c.WebsiteURL, &c.ContactEmail, &c.Phone, &c.IsGlobalNG,
		&c.AILastEnrichmentStatus, &c.NextRetryStrategy, &enriched,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if enriched.Valid {
		t := enriched.Time
		c.AILastEnrichedAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) queryCompanies(ctx context.Context, query string, args ...any) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListCompaniesForEnrichment(ctx context.Context, limit int) ([]model.Company, error) {
	out, err := s.queryCompanies(ctx,
		`SELECT `+sqliteCompanyColumns+` FROM companies
		WHERE COALESCE(ai_last_enrichment_status, '') IN ('', 'skipped')
			OR (ai_last_enrichment_status IN ('partial', 'failed') AND COALESCE(next_retry_strategy, '') <> 'none')
		ORDER BY ai_last_enriched_at IS NOT NULL, ai_last_enriched_at, id
		LIMIT ?`, sqliteLimit(limit),
	)
	return out, eris.Wrap(err, "sqlite: list companies for enrichment")
}

// sqliteLimit maps a non-positive limit to -1, which SQLite reads as no limit.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// --- Clients and projects ---

func (s *SQLiteStore) CreateClient(ctx context.Context, name string) (*model.Client, error) {
	c := model.Client{Name: name, CreatedAt: time.Now().UTC()}
	res, err := s.db.ExecContext(ctx, `INSERT INTO clients (name, created_at) VALUES (?, ?)`, c.Name, c.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert client")
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return nil, eris.Wrap(err, "sqlite: client id")
	}
	return &c, nil
}

func (s *SQLiteStore) GetClient(ctx context.Context, id int64) (*model.Client, error) {
	var c model.Client
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM clients WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get client %d", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get client %d", id)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, clientID int64, name string) (*model.Project, error) {
	p := model.Project{ClientID: clientID, Name: name, CreatedAt: time.Now().UTC()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (client_id, name, created_at) VALUES (?, ?, ?)`, p.ClientID, p.Name, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert project")
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return nil, eris.Wrap(err, "sqlite: project id")
	}
	return &p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, name, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.ClientID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get project %d", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get project %d", id)
	}
	return &p, nil
}

func (s *SQLiteStore) ListAvailableCompanies(ctx context.Context, projectID int64, page Page) ([]model.Company, int, error) {
	const notInProject = ` FROM companies WHERE NOT EXISTS (
		SELECT 1 FROM project_companies pc WHERE pc.project_id = ? AND pc.company_id = companies.id)`

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*)`+notInProject, projectID).Scan(&count); err != nil {
		return nil, 0, eris.Wrapf(err, "sqlite: count available companies for project %d", projectID)
	}

	companies, err := s.queryCompanies(ctx,
		`SELECT `+sqliteCompanyColumns+notInProject+` ORDER BY id LIMIT ? OFFSET ?`,
		projectID, sqliteLimit(page.Limit), max(page.Offset, 0),
	)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "sqlite: list available companies for project %d", projectID)
	}
	return companies, count, nil
}

func (s *SQLiteStore) HasProjectCompany(ctx context.Context, projectID, companyID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_companies WHERE project_id = ? AND company_id = ?)`,
		projectID, companyID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check project %d company %d", projectID, companyID)
	}
	return exists, nil
}

func (s *SQLiteStore) AddProjectCompany(ctx context.Context, projectID, companyID int64, status string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_companies (project_id, company_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		projectID, companyID, status, now, now,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrAlreadyAdded, "sqlite: add company %d to project %d", companyID, projectID)
		}
		return eris.Wrapf(err, "sqlite: add company %d to project %d", companyID, projectID)
	}
	return nil
}

func (s *SQLiteStore) ListProjectCompanies(ctx context.Context, projectID int64) ([]model.ProjectCompany, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, company_id, status, created_at FROM project_companies
		WHERE project_id = ? ORDER BY company_id`, projectID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list project %d companies", projectID)
	}
	defer rows.Close()

	var out []model.ProjectCompany
	for rows.Next() {
		var pc model.ProjectCompany
		if err := rows.Scan(&pc.ProjectID, &pc.CompanyID, &pc.Status, &pc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project company")
		}
		out = append(out, pc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate project companies")
}

// --- NG entries ---

func (s *SQLiteStore) CreateNGEntry(ctx context.Context, e *model.NGEntry) (*model.NGEntry, error) {
	out := *e
	now := time.Now().UTC()
	out.CreatedAt, out.UpdatedAt = now, now
	out.Matched = false

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO client_ng_companies (client_id, company_id, company_name, normalized_name, reason,
			matched, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		out.ClientID, out.CompanyID, out.CompanyName, out.NormalizedName(), out.Reason,
		out.IsActive, now, now,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, eris.Wrapf(ErrDuplicateNGEntry, "sqlite: insert ng entry %q", out.CompanyName)
		}
		if isSQLiteForeignKey(err) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: insert ng entry %q: unknown client or company", out.CompanyName)
		}
		return nil, eris.Wrap(err, "sqlite: insert ng entry")
	}
	if out.ID, err = res.LastInsertId(); err != nil {
		return nil, eris.Wrap(err, "sqlite: ng entry id")
	}
	return &out, nil
}

func (s *SQLiteStore) GetNGEntry(ctx context.Context, id int64) (*model.NGEntry, error) {
	var e model.NGEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT `+ngColumns+` FROM client_ng_companies WHERE id = ?`, id,
	).Scan(ngDests(&e)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get ng entry %d", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get ng entry %d", id)
	}
	return &e, nil
}

func (s *SQLiteStore) queryNGEntries(ctx context.Context, query string, args ...any) ([]model.NGEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.NGEntry
	for rows.Next() {
		var e model.NGEntry
		if err := rows.Scan(ngDests(&e)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ng entry")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListNGEntries(ctx context.Context, clientID int64) ([]model.NGEntry, error) {
	out, err := s.queryNGEntries(ctx,
		`SELECT `+ngColumns+` FROM client_ng_companies WHERE client_id = ? ORDER BY id`, clientID,
	)
	return out, eris.Wrapf(err, "sqlite: list ng entries for client %d", clientID)
}

func (s *SQLiteStore) ListNGCandidates(ctx context.Context, clientID, companyID int64, normalizedName string) ([]model.NGEntry, error) {
	out, err := s.queryNGEntries(ctx,
		`SELECT `+ngColumns+` FROM client_ng_companies
		WHERE client_id = ? AND is_active
			AND ((matched AND company_id = ?) OR normalized_name = ?)
		ORDER BY id`,
		clientID, companyID, normalizedName,
	)
	return out, eris.Wrapf(err, "sqlite: list ng candidates for client %d", clientID)
}

func (s *SQLiteStore) DeleteNGEntry(ctx context.Context, clientID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM client_ng_companies WHERE id = ? AND client_id = ?`, id, clientID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete ng entry %d", id)
	}
	return checkRowsAffected(res, "delete ng entry", id)
}

func (s *SQLiteStore) SetNGEntryActive(ctx context.Context, clientID, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE client_ng_companies SET is_active = ?, updated_at = ? WHERE id = ? AND client_id = ?`,
		active, time.Now().UTC(), id, clientID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set ng entry %d active", id)
	}
	return checkRowsAffected(res, "set ng entry active", id)
}

func (s *SQLiteStore) ListUnmatchedNGEntryIDs(ctx context.Context, clientID *int64) ([]int64, error) {
	ids, err := sqliteIDs(ctx, s.db,
		`SELECT id FROM client_ng_companies
		WHERE is_active AND (company_id IS NULL OR NOT matched) AND (?1 IS NULL OR client_id = ?1)
		ORDER BY id`, clientID)
	return ids, eris.Wrap(err, "sqlite: list unmatched ng entries")
}

func (s *SQLiteStore) ListNGEntryIDsByName(ctx context.Context, normalizedName string) ([]int64, error) {
	ids, err := sqliteIDs(ctx, s.db,
		`SELECT id FROM client_ng_companies
		WHERE is_active AND NOT matched AND normalized_name = ?
		ORDER BY id`, normalizedName)
	return ids, eris.Wrap(err, "sqlite: list ng entries by name")
}

func (s *SQLiteStore) ListNGEntryIDsByCompany(ctx context.Context, companyID int64) ([]int64, error) {
	ids, err := sqliteIDs(ctx, s.db,
		`SELECT id FROM client_ng_companies WHERE company_id = ? ORDER BY id`, companyID)
	return ids, eris.Wrap(err, "sqlite: list ng entries by company")
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqliteIDs(ctx context.Context, q sqlQuerier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) UnbindNGEntries(ctx context.Context, companyID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE client_ng_companies SET company_id = NULL, matched = 0, updated_at = ? WHERE company_id = ?`,
		time.Now().UTC(), companyID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: unbind ng entries of company %d", companyID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// LockNGEntry runs fn inside a transaction. SQLite has no row locks; the
// single pooled connection makes the transaction exclusive instead.
func (s *SQLiteStore) LockNGEntry(ctx context.Context, id int64, fn func(ctx context.Context, e *model.NGEntry, tx NGEntryTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: lock ng entry %d: begin tx", id)
	}
	defer tx.Rollback() //nolint:errcheck

	var e model.NGEntry
	err = tx.QueryRowContext(ctx,
		`SELECT `+ngColumns+` FROM client_ng_companies WHERE id = ?`, id,
	).Scan(ngDests(&e)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "sqlite: lock ng entry %d", id)
		}
		return eris.Wrapf(err, "sqlite: lock ng entry %d", id)
	}

	if err := fn(ctx, &e, &sqliteNGEntryTx{tx: tx, id: id}); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: lock ng entry %d: commit", id)
}

type sqliteNGEntryTx struct {
	tx *sql.Tx
	id int64
}

func (t *sqliteNGEntryTx) FindCompanyIDs(ctx context.Context, normalizedName string, limit int) ([]int64, error) {
	ids, err := sqliteIDs(ctx, t.tx,
		`SELECT id FROM companies WHERE normalized_name = ? ORDER BY id LIMIT ?`, normalizedName, limit)
	return ids, eris.Wrap(err, "sqlite: find companies by name")
}

func (t *sqliteNGEntryTx) SetMatch(ctx context.Context, companyID *int64, matched bool) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE client_ng_companies SET company_id = ?, matched = ?, updated_at = ? WHERE id = ?`,
		companyID, matched, time.Now().UTC(), t.id,
	)
	return eris.Wrapf(err, "sqlite: set match on ng entry %d", t.id)
}

// ImportNGEntries inserts the rows the client does not already have,
// counting existing, blank and repeated names as skipped.
func (s *SQLiteStore) ImportNGEntries(ctx context.Context, clientID int64, rows []NGImportRow) (int, int, error) {
	kept, dropped := dedupeImportRows(rows)
	if len(kept) == 0 {
		return 0, dropped, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: import ng entries: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO client_ng_companies (client_id, company_name, normalized_name, reason,
			matched, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 1, ?, ?)
		ON CONFLICT (client_id, company_name) DO NOTHING`)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: import ng entries: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	imported := 0
	for _, r := range kept {
		res, err := stmt.ExecContext(ctx, clientID, r.CompanyName, model.NormalizeCompanyName(r.CompanyName), r.Reason, now, now)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "sqlite: import ng entry %q", r.CompanyName)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: import ng entries: commit")
	}
	return imported, dropped + len(kept) - imported, nil
}

// --- Enrichment ---

func (s *SQLiteStore) RecordEnrichmentOutcome(ctx context.Context, companyID int64, o EnrichmentOutcome) error {
	if err := o.Validate(); err != nil {
		return eris.Wrapf(err, "sqlite: record outcome for company %d", companyID)
	}
	var at *time.Time
	if !o.EnrichedAt.IsZero() {
		t := o.EnrichedAt.UTC()
		at = &t
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET ai_last_enrichment_status = ?, next_retry_strategy = ?,
			ai_last_enriched_at = COALESCE(?, ai_last_enriched_at), updated_at = ?
		WHERE id = ?`,
		string(o.Status), string(o.NextStrategy), at, time.Now().UTC(), companyID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record outcome for company %d", companyID)
	}
	return checkRowsAffected(res, "record outcome for company", companyID)
}

func (s *SQLiteStore) EnrichmentSummary(ctx context.Context) (*EnrichmentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(ai_last_enrichment_status, ''), COALESCE(next_retry_strategy, '')
		FROM companies ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enrichment summary")
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
			return nil, eris.Wrap(err, "sqlite: scan enrichment summary")
		}
		sum.add(id, status, strategy)
	}
	return sum, eris.Wrap(rows.Err(), "sqlite: iterate enrichment summary")
}

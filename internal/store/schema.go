package store

import "strings"

// dialect captures the few SQL differences between sqlite and mysql.
type dialect struct {
	driver     string
	textType   string // large JSON bodies
	lockSuffix string // row lock for read-modify-write selects
}

var (
	sqliteDialect = dialect{driver: "sqlite", textType: "TEXT"}
	mysqlDialect  = dialect{driver: "mysql", textType: "LONGTEXT", lockSuffix: " FOR UPDATE"}
)

// Identifiers are VARCHAR so the same DDL is a valid primary key on mysql.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS jobs (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	tenant_id VARCHAR(64) NOT NULL,
	file_name VARCHAR(255) NOT NULL,
	state VARCHAR(32) NOT NULL,
	error_message {{text}},
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	version BIGINT NOT NULL
);
CREATE INDEX idx_jobs_tenant_state ON jobs(tenant_id, state);
CREATE INDEX idx_jobs_state_updated ON jobs(state, updated_at);
CREATE TABLE IF NOT EXISTS plans (
	job_id VARCHAR(64) NOT NULL,
	seq BIGINT NOT NULL,
	file_name VARCHAR(255) NOT NULL,
	total_issues INTEGER NOT NULL,
	deduplicated INTEGER NOT NULL,
	dropped INTEGER NOT NULL,
	tallies_json {{text}} NOT NULL,
	issues_json {{text}} NOT NULL,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (job_id, seq)
);
CREATE TABLE IF NOT EXISTS plan_tasks (
	job_id VARCHAR(64) NOT NULL,
	seq BIGINT NOT NULL,
	task_id VARCHAR(32) NOT NULL,
	ord INTEGER NOT NULL,
	issue_id VARCHAR(128) NOT NULL,
	issue_code VARCHAR(128) NOT NULL,
	source VARCHAR(32) NOT NULL,
	severity VARCHAR(16) NOT NULL,
	priority INTEGER NOT NULL,
	tier VARCHAR(16) NOT NULL,
	status VARCHAR(16) NOT NULL,
	location VARCHAR(512) NOT NULL,
	resolution {{text}},
	resolved_by VARCHAR(128),
	resolved_at BIGINT,
	updated_at BIGINT NOT NULL,
	version BIGINT NOT NULL,
	PRIMARY KEY (job_id, seq, task_id)
);
CREATE TABLE IF NOT EXISTS modifications (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	job_id VARCHAR(64) NOT NULL,
	run_id VARCHAR(64) NOT NULL,
	issue_code VARCHAR(128) NOT NULL,
	description {{text}} NOT NULL,
	before_value {{text}},
	after_value {{text}},
	created_at BIGINT NOT NULL
);
CREATE INDEX idx_modifications_job ON modifications(job_id, created_at);
CREATE TABLE IF NOT EXISTS comparisons (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	job_id VARCHAR(64) NOT NULL,
	body {{text}} NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE INDEX idx_comparisons_job ON comparisons(job_id, created_at);
`

// statements renders the schema for d, one statement per element.
func (d dialect) statements() []string {
	rendered := strings.ReplaceAll(schemaTemplate, "{{text}}", d.textType)
	var out []string
	for _, stmt := range strings.Split(rendered, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		// CREATE INDEX IF NOT EXISTS is sqlite-only; mysql reports a
		// duplicate key name which migrate tolerates.
		if d.driver == "sqlite" && strings.HasPrefix(stmt, "CREATE INDEX ") {
			stmt = "CREATE INDEX IF NOT EXISTS " + strings.TrimPrefix(stmt, "CREATE INDEX ")
		}
		out = append(out, stmt)
	}
	return out
}

package storage

import (
	"context"
	"fmt"
	"strings"
)

// schema is written once with {{id}}, {{ts}} and {{bool}} placeholders and
// rendered per dialect.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id {{id}},
		name VARCHAR(100) NOT NULL UNIQUE,
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS withdrawal_slips (
		id {{id}},
		requester VARCHAR(64) NOT NULL,
		note VARCHAR(500) NOT NULL DEFAULT '',
		finished {{bool}} NOT NULL DEFAULT FALSE,
		created_at {{ts}} NOT NULL,
		finished_at {{ts}} NULL
	)`,
	`CREATE TABLE IF NOT EXISTS withdrawal_lines (
		id {{id}},
		slip_id BIGINT NOT NULL,
		item_id BIGINT NOT NULL,
		amount_withdrawn INTEGER NOT NULL CHECK (amount_withdrawn > 0),
		amount_outstanding INTEGER NOT NULL CHECK (amount_outstanding >= 0),
		amount_returned INTEGER NOT NULL DEFAULT 0 CHECK (amount_returned >= 0),
		CHECK (amount_returned + amount_outstanding <= amount_withdrawn),
		FOREIGN KEY (slip_id) REFERENCES withdrawal_slips (id),
		FOREIGN KEY (item_id) REFERENCES items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS requests (
		id {{id}},
		status VARCHAR(16) NOT NULL,
		requester VARCHAR(64) NOT NULL,
		approver VARCHAR(64) NULL,
		purchaser VARCHAR(64) NULL,
		created_at {{ts}} NOT NULL,
		last_modified {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS request_lines (
		id {{id}},
		request_id BIGINT NOT NULL,
		item_id BIGINT NOT NULL,
		amount_requested INTEGER NOT NULL CHECK (amount_requested > 0),
		FOREIGN KEY (request_id) REFERENCES requests (id),
		FOREIGN KEY (item_id) REFERENCES items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_transactions (
		id {{id}},
		kind VARCHAR(32) NOT NULL,
		note VARCHAR(500) NOT NULL,
		actor VARCHAR(64) NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock_transaction_lines (
		id {{id}},
		transaction_id BIGINT NOT NULL,
		item_id BIGINT NOT NULL,
		amount_changed INTEGER NOT NULL,
		total_after_change INTEGER NOT NULL,
		FOREIGN KEY (transaction_id) REFERENCES stock_transactions (id),
		FOREIGN KEY (item_id) REFERENCES items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS request_transactions (
		id {{id}},
		request_id BIGINT NOT NULL,
		note VARCHAR(500) NOT NULL,
		actor VARCHAR(64) NOT NULL,
		created_at {{ts}} NOT NULL,
		FOREIGN KEY (request_id) REFERENCES requests (id)
	)`,
}

// indexes are created separately because MySQL lacks CREATE INDEX IF NOT EXISTS.
var indexes = []struct{ name, table, columns string }{
	{"idx_withdrawal_slips_requester", "withdrawal_slips", "requester"},
	{"idx_withdrawal_lines_slip", "withdrawal_lines", "slip_id"},
	{"idx_request_lines_request", "request_lines", "request_id"},
	{"idx_stock_transactions_actor", "stock_transactions", "actor"},
	{"idx_stock_transaction_lines_item", "stock_transaction_lines", "item_id"},
	{"idx_request_transactions_request", "request_transactions", "request_id"},
	{"idx_request_transactions_actor", "request_transactions", "actor"},
}

func (d Dialect) renderDDL(stmt string) string {
	var id, ts, boolean string
	switch d {
	case MySQL:
		id, ts, boolean = "BIGINT AUTO_INCREMENT PRIMARY KEY", "DATETIME(6)", "BOOLEAN"
	case Postgres:
		id, ts, boolean = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", "BOOLEAN"
	default:
		id, ts, boolean = "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME", "BOOLEAN"
	}
	r := strings.NewReplacer("{{id}}", id, "{{ts}}", ts, "{{bool}}", boolean)
	stmt = r.Replace(stmt)
	if d == MySQL {
		stmt += " ENGINE=InnoDB"
	}
	return stmt
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, s.dialect.renderDDL(stmt)); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	for _, idx := range indexes {
		if err := s.ensureIndex(ctx, idx.name, idx.table, idx.columns); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureIndex(ctx context.Context, name, table, columns string) error {
	if s.dialect == MySQL {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM information_schema.statistics
			WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
			table, name,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("inspect index %s: %w", name, err)
		}
		if n > 0 {
			return nil
		}
		_, err = s.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, columns))
		if err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, columns))
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

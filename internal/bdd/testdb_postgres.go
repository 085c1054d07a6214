package bdd

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/jackc/pgx/v5"
)

// chatTables lists every table in foreign-key safe delete order.
var chatTables = []string{
	"message_read_receipts",
	"attachments",
	"messages",
	"participants",
	"conversations",
	"users",
}

// PostgresTestDB implements cucumber.TestDB for Postgres.
type PostgresTestDB struct {
	DBURL string
}

var _ cucumber.TestDB = (*PostgresTestDB)(nil)

func (p *PostgresTestDB) ClearAll(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, p.DBURL)
	if err != nil {
		return fmt.Errorf("cleanup: failed to connect: %w", err)
	}
	defer conn.Close(ctx)

	for _, table := range chatTables {
		if _, err := conn.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

func (p *PostgresTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	conn, err := pgx.Connect(ctx, p.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("SQL query failed: %w", err)
	}
	defer rows.Close()

	var result []map[string]interface{}
	fieldDescs := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]interface{}, len(values))
		for i, fd := range fieldDescs {
			row[fd.Name] = normalize(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// normalize renders driver values the way feature files spell them.
func normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	case []byte:
		return string(t)
	}
	return v
}

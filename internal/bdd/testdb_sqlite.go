package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/plugin/store/sqlite"
	"github.com/chirino/chat-service/internal/testutil/cucumber"
)

// SQLiteTestDB implements cucumber.TestDB on the shared SQLite pool the server uses.
type SQLiteTestDB struct {
	DSN string
}

var _ cucumber.TestDB = (*SQLiteTestDB)(nil)

func (s *SQLiteTestDB) ClearAll(ctx context.Context) error {
	db, err := sqlite.Open(s.DSN)
	if err != nil {
		return err
	}
	for _, table := range chatTables {
		if err := db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	db, err := sqlite.Open(s.DSN)
	if err != nil {
		return nil, err
	}
	var rows []map[string]interface{}
	if err := db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("SQL query failed: %w", err)
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = normalize(v)
		}
	}
	return rows, nil
}

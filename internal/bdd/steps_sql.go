package bdd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		sq := &sqlSteps{s: s}
		ctx.Step(`^I execute SQL query:$`, sq.iExecuteSQLQuery)
		ctx.Step(`^the SQL result should have (\d+) rows?$`, sq.theSQLResultShouldHaveRows)
		ctx.Step(`^the SQL result should match:$`, sq.theSQLResultShouldMatch)
		ctx.Step(`^the SQL result column "([^"]*)" should be (null|non-null)$`, sq.theSQLResultColumnShouldBe)
	})
}

type sqlSteps struct {
	s        *cucumber.TestScenario
	lastRows []map[string]interface{}
}

// iExecuteSQLQuery runs the query and exposes the rows as the current response so the
// JSON response steps can inspect them.
func (sq *sqlSteps) iExecuteSQLQuery(query *godog.DocString) error {
	if sq.s.Suite.DB == nil {
		return fmt.Errorf("no TestDB configured")
	}
	expanded, err := sq.s.Expand(query.Content)
	if err != nil {
		return err
	}
	if sq.lastRows, err = sq.s.Suite.DB.ExecSQL(context.Background(), expanded); err != nil {
		return err
	}
	result, err := json.Marshal(sq.lastRows)
	if err != nil {
		return err
	}
	sq.s.Session().SetRespBytes(result)
	return nil
}

func (sq *sqlSteps) theSQLResultShouldHaveRows(count int) error {
	if len(sq.lastRows) != count {
		return fmt.Errorf("expected %d row(s), got %d", count, len(sq.lastRows))
	}
	return nil
}

func (sq *sqlSteps) theSQLResultShouldMatch(expected *godog.Table) error {
	if len(expected.Rows) < 2 {
		return fmt.Errorf("expected table must have a header row and at least one data row")
	}
	headers := expected.Rows[0].Cells
	for rowIdx, row := range expected.Rows[1:] {
		if rowIdx >= len(sq.lastRows) {
			return fmt.Errorf("expected at least %d data row(s), got %d", rowIdx+1, len(sq.lastRows))
		}
		for colIdx, cell := range row.Cells {
			col := headers[colIdx].Value
			want, err := sq.s.Expand(cell.Value)
			if err != nil {
				return err
			}
			if got := fmt.Sprintf("%v", sq.lastRows[rowIdx][col]); got != want {
				return fmt.Errorf("SQL result row %d column '%s': expected '%s', got '%s'", rowIdx, col, want, got)
			}
		}
	}
	return nil
}

func (sq *sqlSteps) theSQLResultColumnShouldBe(column, state string) error {
	if len(sq.lastRows) == 0 {
		return fmt.Errorf("SQL result has no rows")
	}
	value, ok := sq.lastRows[0][column]
	if !ok {
		return fmt.Errorf("column '%s' not found in SQL result", column)
	}
	if (value == nil) != (state == "null") {
		return fmt.Errorf("column '%s' is %v, expected %s", column, value, state)
	}
	return nil
}

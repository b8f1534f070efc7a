package cascade

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func examGraph() *Graph {
	return New("user",
		Node{Table: "user", Refs: []Ref{ByKey("id", "id")}},
		Node{Table: "exam", Refs: []Ref{ByKey("created_by", "id")}},
		Node{Table: "submission", Refs: []Ref{
			ByKey("student_id", "id"),
			Via("exam_id", "exam"),
			SetNull("marked_by", "id"),
		}},
		Node{Table: "registration", Refs: []Ref{ByKey("student_id", "id"), Via("exam_id", "exam")}},
		Node{Table: "password_reset_token", Refs: []Ref{ByKey("email", "email")}},
	)
}

func TestGraph_Plan(t *testing.T) {
	plan, err := examGraph().Plan()
	require.NoError(t, err)

	want := Plan{
		{
			Table: "submission",
			SQL:   `DELETE FROM "submission" WHERE "student_id" = $1 OR "exam_id" IN (SELECT "id" FROM "exam" WHERE "created_by" = $1)`,
			Keys:  []string{"id"},
		},
		{
			Table: "submission",
			SQL:   `UPDATE "submission" SET "marked_by" = NULL WHERE "marked_by" = $1`,
			Keys:  []string{"id"},
		},
		{
			Table: "registration",
			SQL:   `DELETE FROM "registration" WHERE "student_id" = $1 OR "exam_id" IN (SELECT "id" FROM "exam" WHERE "created_by" = $1)`,
			Keys:  []string{"id"},
		},
		{Table: "exam", SQL: `DELETE FROM "exam" WHERE "created_by" = $1`, Keys: []string{"id"}},
		{Table: "password_reset_token", SQL: `DELETE FROM "password_reset_token" WHERE "email" = $1`, Keys: []string{"email"}},
		{Table: "user", SQL: `DELETE FROM "user" WHERE "id" = $1`, Keys: []string{"id"}},
	}
	assert.Equal(t, want, plan)
}

func TestGraph_Plan_ChildrenFirst(t *testing.T) {
	g := examGraph()
	plan, err := g.Plan()
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, stmt := range plan {
		if _, ok := pos[stmt.Table]; !ok {
			pos[stmt.Table] = i
		}
	}
	for _, n := range g.nodes {
		for _, ref := range n.Refs {
			if ref.Via != "" {
				assert.Less(t, pos[n.Table], pos[ref.Via], "%s before %s", n.Table, ref.Via)
			}
		}
		if n.Table != "user" {
			assert.Less(t, pos[n.Table], pos["user"], "%s before user", n.Table)
		}
	}
}

func TestGraph_Plan_Errors(t *testing.T) {
	tests := []struct {
		name  string
		graph *Graph
		want  string
	}{
		{
			name:  "missing root",
			graph: New("user", Node{Table: "exam", Refs: []Ref{ByKey("created_by", "id")}}),
			want:  `cascade: root table "user" is not declared`,
		},
		{
			name: "unknown parent",
			graph: New("user",
				Node{Table: "user", Refs: []Ref{ByKey("id", "id")}},
				Node{Table: "registration", Refs: []Ref{Via("exam_id", "exam")}},
			),
			want: `cascade: registration.exam_id: unknown table "exam"`,
		},
		{
			name: "nullify through parent",
			graph: New("user",
				Node{Table: "user", Refs: []Ref{ByKey("id", "id")}},
				Node{Table: "exam", Refs: []Ref{ByKey("created_by", "id")}},
				Node{Table: "submission", Refs: []Ref{{Column: "exam_id", Via: "exam", Nullify: true}}},
			),
			want: "cascade: submission.exam_id: only direct references can be nullified",
		},
		{
			name: "parent removes nothing",
			graph: New("user",
				Node{Table: "user", Refs: []Ref{ByKey("id", "id")}},
				Node{Table: "submission", Refs: []Ref{SetNull("marked_by", "id")}},
				Node{Table: "review", Refs: []Ref{Via("submission_id", "submission")}},
			),
			want: `cascade: review.submission_id: table "submission" removes no rows`,
		},
		{
			name: "cycle",
			graph: New("user",
				Node{Table: "user", Refs: []Ref{ByKey("id", "id")}},
				Node{Table: "a", Refs: []Ref{Via("b_id", "b")}},
				Node{Table: "b", Refs: []Ref{Via("a_id", "a")}},
			),
			want: "cascade: dependency cycle between a, b",
		},
		{
			name: "duplicate table",
			graph: New("user",
				Node{Table: "user", Refs: []Ref{ByKey("id", "id")}},
				Node{Table: "user", Refs: []Ref{ByKey("email", "email")}},
			),
			want: `cascade: table "user" declared twice`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.graph.Plan()
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

type execRecorder struct {
	queries []string
	args    [][]interface{}
	failOn  string
}

func (r *execRecorder) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	if r.failOn != "" && query == r.failOn {
		return nil, errors.New("boom")
	}
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return driver.RowsAffected(2), nil
}

func TestPlan_Exec(t *testing.T) {
	plan, err := examGraph().Plan()
	require.NoError(t, err)
	keys := map[string]interface{}{"id": "u1", "email": "u1@test.test"}

	rec := new(execRecorder)
	affected, err := plan.Exec(context.Background(), rec, keys)
	require.NoError(t, err)
	assert.Len(t, rec.queries, len(plan))
	assert.Equal(t, []interface{}{"u1@test.test"}, rec.args[4])
	assert.Equal(t, int64(4), affected["submission"])
	assert.Equal(t, int64(2), affected["user"])

	// stops at the first failure
	rec = &execRecorder{failOn: plan[2].SQL}
	_, err = plan.Exec(context.Background(), rec, keys)
	assert.EqualError(t, err, "cascading to registration: boom")
	assert.Len(t, rec.queries, 2)

	// missing key
	_, err = plan.Exec(context.Background(), new(execRecorder), map[string]interface{}{"id": "u1"})
	assert.EqualError(t, err, `cascade: missing key "email" for password_reset_token`)
}

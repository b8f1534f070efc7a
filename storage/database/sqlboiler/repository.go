package boiledrepos

import (
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/mashindano/core"
)

type repository struct {
	exec core.DBExecutor
}

func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// orderBy renders the ORDER BY clause of the allowed orderings, falling back to dflt.
// allowed maps API field names to columns.
func orderBy(ordering []core.DBOrdering, allowed map[string]string, dflt string) string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := allowed[ord.Field]; ok {
			clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	if len(clauses) == 0 {
		return " ORDER BY " + dflt
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}

// in expands `?` placeholders (slices included) into postgres bindvars.
func in(query string, args ...interface{}) (string, []interface{}, error) {
	q, params, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(sqlx.DOLLAR, q), params, nil
}

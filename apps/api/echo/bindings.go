package echoapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/mashindano/core"
)

var orderingParam = "ordering"

var (
	examOrderingFields = []string{"name", "reg_start_time", "start_time", "end_time", "created_at"}
	userOrderingFields = []string{"name", "username", "email", "role", "created_at", "last_login"}
)

// Ordering binds "?ordering=name,-created_at": comma separated fields, "-" for descending.
type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind rejects the fields a listing cannot be ordered by with a 400.
func (ord *Ordering) Bind(ctx echo.Context, allowed ...string) error {
	raw := strings.TrimSpace(ctx.QueryParam(orderingParam))
	if raw == "" {
		return nil
	}

	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		if !isAllowedOrdering(field, allowed) {
			return echo.NewHTTPError(
				http.StatusBadRequest,
				fmt.Sprintf("cannot order by %q, use one of: %s", field, strings.Join(allowed, ", ")),
			)
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
	return nil
}

func isAllowedOrdering(field string, allowed []string) bool {
	for _, f := range allowed {
		if f == field {
			return true
		}
	}
	return false
}

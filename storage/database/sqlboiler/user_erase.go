package boiledrepos

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/user"
	"github.com/trezcool/mashindano/storage/database/cascade"
)

// userGraph lists every table referencing a user. A new table referencing "user"
// needs a node here, or erasing its rows' owners fails on the foreign key.
var userGraph = cascade.New("user",
	cascade.Node{Table: "user", Refs: []cascade.Ref{cascade.ByKey("id", "id")}},
	cascade.Node{Table: "exam", Refs: []cascade.Ref{cascade.ByKey("created_by", "id")}},
	cascade.Node{Table: "registration", Refs: []cascade.Ref{
		cascade.ByKey("student_id", "id"),
		cascade.Via("exam_id", "exam"),
	}},
	cascade.Node{Table: "submission", Refs: []cascade.Ref{
		cascade.ByKey("student_id", "id"),
		cascade.Via("exam_id", "exam"),
		cascade.SetNull("marked_by", "id"),
	}},
	cascade.Node{Table: "achievement", Refs: []cascade.Ref{
		cascade.ByKey("user_id", "id"),
		cascade.Via("exam_id", "exam"),
	}},
	cascade.Node{Table: "payment", Refs: []cascade.Ref{cascade.ByKey("user_id", "id")}},
	cascade.Node{Table: "password_reset_token", Refs: []cascade.Ref{cascade.ByKey("email", "email")}},
	cascade.Node{Table: "activity", Refs: []cascade.Ref{cascade.ByKey("created_by", "id")}},
	cascade.Node{Table: "resource", Refs: []cascade.Ref{cascade.ByKey("created_by", "id")}},
	cascade.Node{Table: "competition", Refs: []cascade.Ref{cascade.ByKey("created_by", "id")}},
	cascade.Node{Table: "news", Refs: []cascade.Ref{cascade.ByKey("author_id", "id")}},
)

var (
	userErasePlan     cascade.Plan
	userErasePlanErr  error
	userErasePlanOnce sync.Once
)

func erasePlan() (cascade.Plan, error) {
	userErasePlanOnce.Do(func() {
		userErasePlan, userErasePlanErr = userGraph.Plan()
	})
	return userErasePlan, userErasePlanErr
}

func (repo userRepository) EraseUser(ctx context.Context, usr user.User, exec core.DBExecutor) error {
	plan, err := erasePlan()
	if err != nil {
		return errors.Wrap(err, "planning user erasure")
	}

	keys := map[string]interface{}{
		"id":    usr.ID,
		"email": null.NewString(usr.Email, usr.Email != ""), // NULL never matches
	}
	affected, err := plan.Exec(ctx, exec, keys)
	if err != nil {
		return err
	}
	if affected["user"] != 1 {
		return user.ErrNotFound
	}
	return nil
}

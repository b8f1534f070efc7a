package boiledrepos

import (
	"context"
	"crypto/hmac"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/user"
	"github.com/trezcool/mashindano/storage/database"
)

const userColumns = `id, name, username, email, role, payment_status, is_active, password_hash, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"role":       "role",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID            string      `boil:"id"`
	Name          string      `boil:"name"`
	Username      null.String `boil:"username"`
	Email         null.String `boil:"email"`
	Role          string      `boil:"role"`
	PaymentStatus string      `boil:"payment_status"`
	IsActive      bool        `boil:"is_active"`
	PasswordHash  null.Bytes  `boil:"password_hash"`
	CreatedAt     time.Time   `boil:"created_at"`
	UpdatedAt     time.Time   `boil:"updated_at"`
	LastLogin     null.Time   `boil:"last_login"`
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{repository{exec: exec}}
}

func (repo userRepository) boil(usr user.User) userRow {
	u := userRow{
		ID:            usr.ID,
		Name:          usr.Name,
		Username:      null.NewString(usr.Username, usr.Username != ""),
		Email:         null.NewString(usr.Email, usr.Email != ""),
		Role:          usr.Role,
		PaymentStatus: usr.PaymentStatus,
		IsActive:      usr.Active(),
		PasswordHash:  null.NewBytes(usr.PasswordHash, usr.PasswordHash != nil),
		CreatedAt:     usr.CreatedAt.UTC(),
		UpdatedAt:     usr.UpdatedAt.UTC(),
		LastLogin:     null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
	if u.Role == "" {
		u.Role = user.RoleStudent
	}
	if u.PaymentStatus == "" {
		u.PaymentStatus = user.PaymentUnpaid
	}
	return u
}

func (repo userRepository) unboil(u userRow) user.User {
	usr := user.User{
		ID:            u.ID,
		Name:          u.Name,
		Username:      u.Username.String,
		Email:         u.Email.String,
		Role:          u.Role,
		PaymentStatus: u.PaymentStatus,
		PasswordHash:  u.PasswordHash.Bytes,
		CreatedAt:     u.CreatedAt.UTC(),
		UpdatedAt:     u.UpdatedAt.UTC(),
	}
	if u.LastLogin.Valid {
		usr.LastLogin = u.LastLogin.Time.UTC()
	}
	usr.SetActive(u.IsActive)
	return usr
}

func (repo userRepository) unboilSlice(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, u := range rows {
		users = append(users, repo.unboil(u))
	}
	return users
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// trapUniqueErr maps unique violations on username or email to their domain errors.
func (repo userRepository) trapUniqueErr(err error, msg string) error {
	switch {
	case database.IsUniqueViolation(err, "user_username_key"):
		return user.ErrUsernameExists
	case database.IsUniqueViolation(err, "user_email_key"):
		return user.ErrEmailExists
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	if username == "" && email == "" {
		return nil
	}

	var (
		conds []string
		args  []interface{}
	)
	if username != "" {
		conds = append(conds, "username = ?")
		args = append(args, username)
	}
	if email != "" {
		conds = append(conds, "email = ?")
		args = append(args, email)
	}
	q := `SELECT username, email FROM "user" WHERE (` + strings.Join(conds, " OR ") + ")"
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q += " AND id NOT IN (?)"
		args = append(args, ids)
	}
	q, args, err := in(q, args...)
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}

	var matches []struct {
		Username null.String `boil:"username"`
		Email    null.String `boil:"email"`
	}
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &matches); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}

	var unameTaken, emailTaken bool
	for _, m := range matches {
		unameTaken = unameTaken || (username != "" && m.Username.String == username)
		emailTaken = emailTaken || (email != "" && m.Email.String == email)
	}
	switch {
	case unameTaken && emailTaken:
		return user.ErrUserExists
	case unameTaken:
		return user.ErrUsernameExists
	case emailTaken:
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	u := repo.boil(usr)

	var created userRow
	err := queries.Raw(
		`INSERT INTO "user" (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+userColumns,
		u.ID, u.Name, u.Username, u.Email, u.Role, u.PaymentStatus, u.IsActive, u.PasswordHash,
		u.CreatedAt, u.UpdatedAt, u.LastLogin,
	).Bind(ctx, repo.getExec(exec), &created)
	if err != nil {
		return user.User{}, repo.trapUniqueErr(err, "inserting user")
	}
	return repo.unboil(created), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	var (
		conds []string
		args  []interface{}
	)

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			conds = append(conds, "(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)")
			args = append(args, val, val, val)
		}
		if len(filter.Roles) > 0 {
			roles := make([]string, 0, len(filter.Roles))
			for _, r := range filter.Roles {
				roles = append(roles, strings.ToUpper(r))
			}
			conds = append(conds, "role IN (?)")
			args = append(args, roles)
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, "created_at >= ?")
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, "created_at <= ?")
			args = append(args, filter.CreatedTo.UTC())
		}
	}

	q := `SELECT ` + userColumns + ` FROM "user"`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderBy(ordering, userOrderings, "created_at, id")

	q, args, err := in(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building users query")
	}

	var rows []userRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unboilSlice(rows), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var (
		where string
		arg   string
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		where, arg = "id = $1", filter.ID
	case filter.Username != "":
		where, arg = "username = $1", filter.Username
	case filter.Email != "":
		where, arg = "email = $1", filter.Email
	case filter.UsernameOrEmail != "":
		where, arg = "(username = $1 OR email = $1)", filter.UsernameOrEmail
	default:
		return user.User{}, user.ErrNotFound
	}

	var u userRow
	err := queries.Raw(`SELECT `+userColumns+` FROM "user" WHERE `+where+` LIMIT 1`, arg).
		Bind(ctx, repo.getExec(exec), &u)
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	return repo.unboil(u), nil
}

func (repo userRepository) LockUser(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}
	var u userRow
	err := queries.Raw(`SELECT `+userColumns+` FROM "user" WHERE id = $1 FOR UPDATE`, id).
		Bind(ctx, repo.getExec(exec), &u)
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "locking user")
	}
	return repo.unboil(u), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	u := repo.boil(usr)

	var updated userRow
	err := queries.Raw(
		`UPDATE "user" SET
			name = $2, username = $3, email = $4, role = $5, payment_status = $6,
			is_active = $7, password_hash = $8, updated_at = $9, last_login = $10
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.Name, u.Username, u.Email, u.Role, u.PaymentStatus,
		u.IsActive, u.PasswordHash, u.UpdatedAt, u.LastLogin,
	).Bind(ctx, repo.getExec(exec), &updated)
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, repo.trapUniqueErr(err, "updating user")
	}
	return repo.unboil(updated), nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}

func (repo userRepository) SaveResetToken(ctx context.Context, email string, tokenHash []byte, expiresAt time.Time, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).ExecContext(
		ctx,
		`INSERT INTO password_reset_token (id, email, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), email, tokenHash, expiresAt.UTC(), core.NowFunc(),
	)
	return errors.Wrap(err, "inserting password reset token")
}

func (repo userRepository) ConsumeResetToken(ctx context.Context, email string, tokenHash []byte, now time.Time, exec ...core.DBExecutor) (bool, error) {
	var tokens []struct {
		TokenHash []byte    `boil:"token_hash"`
		ExpiresAt time.Time `boil:"expires_at"`
	}
	err := queries.Raw(`DELETE FROM password_reset_token WHERE email = $1 RETURNING token_hash, expires_at`, email).
		Bind(ctx, repo.getExec(exec), &tokens)
	if err != nil {
		return false, errors.Wrap(err, "deleting password reset tokens")
	}

	for _, t := range tokens {
		if hmac.Equal(t.TokenHash, tokenHash) && now.Before(t.ExpiresAt) {
			return true, nil
		}
	}
	return false, nil
}

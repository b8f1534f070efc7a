package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mashindano/core"
)

var (
	// errors
	ErrNotFound            = core.NewAppError(core.KindNotFound, "user not found")
	ErrUserExists          = core.NewAppError(core.KindConflict, "a user with this username or email already exists")
	ErrEmailExists         = core.NewAppError(core.KindConflict, "a user with this email already exists")
	ErrUsernameExists      = core.NewAppError(core.KindConflict, "a user with this username already exists")
	ErrSelfDeleteForbidden = core.NewAppError(core.KindSelfDeleteForbidden, "you cannot delete your own account")
	ErrEraseFailed         = core.NewAppError(core.KindEraseFailed, "account deletion failed, nothing was removed")
	ErrInvalidResetToken   = core.NewValidationError(errors.New("invalid or expired password reset link"))
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []User, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		// LockUser takes a row lock on the user for the rest of the transaction.
		LockUser(ctx context.Context, id string, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)

		SaveResetToken(ctx context.Context, email string, tokenHash []byte, expiresAt time.Time, exec ...core.DBExecutor) error
		// ConsumeResetToken deletes every reset token of email and reports whether
		// tokenHash was among the unexpired ones.
		ConsumeResetToken(ctx context.Context, email string, tokenHash []byte, now time.Time, exec ...core.DBExecutor) (bool, error)

		// EraseUser removes the user and every record referencing them.
		// It must run on a transaction executor.
		EraseUser(ctx context.Context, usr User, exec core.DBExecutor) error
	}

	Service interface {
		CheckUniqueness(ctx context.Context, uname, email string, excludedUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
		Erase(ctx context.Context, id, requesterID string) error
	}

	service struct {
		db      core.DB
		repo    Repository
		mailSvc core.EmailService
		logger  core.Logger
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(db core.DB, repo Repository, mailSvc core.EmailService, logger core.Logger, conf *core.Config) Service {
	configureTokens(conf)
	return &service{
		db:      db,
		repo:    repo,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, excludedUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, excludedUsers); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		case ErrUserExists:
			return core.NewValidationError(
				err,
				core.FieldError{Field: "username", Error: ErrUserExists.Msg},
				core.FieldError{Field: "email", Error: ErrUserExists.Msg},
			)
		default:
			return errors.Wrap(err, "checking username uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := core.NowFunc()
	usr := User{
		Name:          nu.Name,
		Username:      nu.Username,
		Email:         nu.Email,
		Role:          nu.Role,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	usr.SetActive(true)
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

// Update applies validated changes to usr. Empty fields keep their current value.
func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	if uu.Role != "" {
		usr.Role = uu.Role
	}
	if uu.PaymentStatus != "" {
		usr.PaymentStatus = uu.PaymentStatus
	}
	if uu.IsActive != nil {
		usr.SetActive(*uu.IsActive)
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = core.NowFunc()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.Active() {
		return ErrNotFound
	}

	token, err := MakeToken(usr)
	if err != nil {
		return errors.Wrap(err, "making password reset token")
	}
	expiresAt := core.NowFunc().Add(passwordResetTimeoutDelta)
	if err = svc.repo.SaveResetToken(ctx, usr.Email, hashToken(token), expiresAt); err != nil {
		return errors.Wrap(err, "saving password reset token")
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]string{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": token,
		},
	})
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	uid, err := decodeUID(data.UID)
	if err != nil {
		return ErrInvalidResetToken
	}
	usr, err := svc.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidResetToken
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err = verifyToken(usr, data.Token); err != nil {
		return ErrInvalidResetToken
	}

	// the new password must satisfy the policy against this user's attributes
	if tag := passwordPolicyViolation(data.Password, usr.Name, usr.Username, usr.Email); tag != "" {
		return core.NewValidationError(nil, core.FieldError{Field: "password", Error: passwordPolicyTexts[tag]})
	}

	return core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		ok, err := svc.repo.ConsumeResetToken(ctx, usr.Email, hashToken(data.Token), core.NowFunc(), tx)
		if err != nil {
			return errors.Wrap(err, "consuming password reset token")
		}
		if !ok {
			return ErrInvalidResetToken
		}
		if err = usr.SetPassword(data.Password); err != nil {
			return errors.Wrap(err, "setting password")
		}
		usr.UpdatedAt = core.NowFunc()
		if _, err = svc.repo.UpdateUser(ctx, usr, tx); err != nil {
			return errors.Wrap(err, "updating password")
		}
		return nil
	})
}

// Erase removes the user and everything that references them, or nothing at all.
func (svc *service) Erase(ctx context.Context, id, requesterID string) error {
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(id, "id"),
	).Check(); err != nil {
		return errors.Wrap(err, "checking arguments")
	}
	if id == requesterID {
		return ErrSelfDeleteForbidden
	}
	if _, err := svc.GetByID(ctx, id); err != nil {
		return err
	}

	err := core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		usr, err := svc.repo.LockUser(ctx, id, tx)
		if err != nil {
			return err
		}
		return svc.repo.EraseUser(ctx, usr, tx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound): // erased concurrently
		return ErrNotFound
	default:
		svc.logger.Error(fmt.Sprintf("erasing user %s: %v", id, err), err)
		return ErrEraseFailed.WithCause(err)
	}
}

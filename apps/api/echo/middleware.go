package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/mashindano/core/user"
)

// roleMiddleware restricts the route to users holding one of roles.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.HasAnyRole(roles...) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleAdmin)
}

func graderMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleAdmin, user.RoleModerator)
}

func studentMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleStudent)
}

// ctxUserOrAdminMiddleware loads the `:id` user into the context for themselves or an admin.
// Anyone else gets a 404.
func ctxUserOrAdminMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, svc)
			if err != nil {
				return err
			}
			if ctx.Param("id") != ctxUsr.ID && !ctxUsr.IsAdmin() {
				return errHttpNotFound
			}

			usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				return err
			}
			ctx.Set("object", usr)
			return next(ctx)
		}
	}
}

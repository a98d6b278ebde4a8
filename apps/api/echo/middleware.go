package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.HasAnyRole(roles...) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// smsSenderMiddleware allows admins, and teachers granted the can_send_sms permission.
func smsSenderMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.IsAdmin() || (claims.Role == RoleTeacher && claims.Permissions.CanSendSMS) {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

// tenantMiddleware rejects tokens that are not bound to a madrasah.
func tenantMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.MadrasahID == "" && claims.Role != RoleSuperAdmin {
			return errHttpForbidden
		}
		return next(ctx)
	}
}

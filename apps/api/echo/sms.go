package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
)

type (
	BulkSMSRequest struct {
		MadrasahID string          `json:"madrasah_id"` // super admins only
		Recipients []sms.Recipient `json:"recipients" validate:"required,min=1,dive"`
		Message    string          `json:"message" validate:"required,notblank"`
	}

	DirectSMSRequest struct {
		Phone   string `json:"phone" validate:"required,notblank"`
		Message string `json:"message" validate:"required,notblank"`
	}
)

type smsApi struct {
	svc      SMSService
	validate *validator.Validate
}

func registerSMSAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc SMSService, validate *validator.Validate) {
	api := smsApi{svc: svc, validate: validate}

	sg := g.Group("/sms", jwt)
	sg.POST("/bulk", api.sendBulk, tenantMiddleware, smsSenderMiddleware)
	sg.POST("/direct", api.sendDirect, roleMiddleware(RoleSuperAdmin, RoleMadrasahAdmin))
}

// Handlers

func (api *smsApi) sendBulk(ctx echo.Context) error {
	var data BulkSMSRequest
	if err := bindJSON(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to BulkSMSRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	tenantID := claims.MadrasahID
	if claims.Role == RoleSuperAdmin {
		tenantID = core.FirstNonBlank(data.MadrasahID, tenantID)
	}
	if tenantID == "" {
		return core.NewFieldError("madrasah_id", "this field is required")
	}

	res, err := api.svc.SendBulk(ctx.Request().Context(), tenantID, data.Recipients, data.Message)
	if err != nil {
		return errors.Wrap(err, "sending bulk sms")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *smsApi) sendDirect(ctx echo.Context) error {
	var data DirectSMSRequest
	if err := bindJSON(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to DirectSMSRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	res, err := api.svc.SendDirect(ctx.Request().Context(), data.Phone, data.Message, claims.MadrasahID)
	if err != nil {
		return errors.Wrap(err, "sending sms")
	}
	return ctx.JSON(http.StatusOK, res)
}

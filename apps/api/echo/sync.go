package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
)

type (
	EnqueueRequest struct {
		Table   string               `json:"table" validate:"required,table_name"`
		Type    offline.MutationType `json:"type" validate:"required,mutation_type"`
		Payload offline.Record       `json:"payload" validate:"required"`
	}

	ConnectivityRequest struct {
		Online *bool `json:"online" validate:"required"`
	}

	ConnectivityResponse struct {
		Online        bool `json:"online"`
		ReplayStarted bool `json:"replay_started"`
	}

	SyncStatus struct {
		Online      bool `json:"online"`
		Pending     int  `json:"pending"`
		DeadLetters int  `json:"dead_letters"`
	}
)

type syncApi struct {
	queue    SyncQueue
	conn     Connectivity
	validate *validator.Validate
}

func registerSyncAPI(g *echo.Group, jwt echo.MiddlewareFunc, queue SyncQueue, conn Connectivity, validate *validator.Validate) {
	api := syncApi{queue: queue, conn: conn, validate: validate}

	sg := g.Group("/sync", jwt)
	sg.GET("/status", api.status)
	sg.GET("/queue", api.query)
	sg.POST("/queue", api.enqueue)
	sg.DELETE("/queue/:id", api.drop)
	sg.POST("/replay", api.replay)
	sg.POST("/connectivity", api.setConnectivity)

	// dead letters are only handled by admins
	dg := sg.Group("/dead-letters", roleMiddleware(RoleSuperAdmin, RoleMadrasahAdmin))
	dg.GET("", api.queryDeadLetters)
	dg.POST("/:id/requeue", api.requeue)
}

// Handlers

func (api *syncApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, SyncStatus{
		Online:      api.conn.IsOnline(),
		Pending:     len(api.queue.List()),
		DeadLetters: len(api.queue.DeadLetters()),
	})
}

func (api *syncApi) query(ctx echo.Context) error {
	pending := api.queue.List()
	if pending == nil {
		pending = []offline.Mutation{}
	}
	return ctx.JSON(http.StatusOK, pending)
}

func (api *syncApi) enqueue(ctx echo.Context) error {
	var data EnqueueRequest
	if err := bindJSON(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to EnqueueRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	switch data.Type {
	case offline.MutationInsert:
		if claims.MadrasahID != "" {
			data.Payload[offline.TenantField] = claims.MadrasahID
		}
	case offline.MutationUpdate:
		// tenancy is not patchable
		delete(data.Payload, offline.TenantField)
	}
	payload, err := offline.NewPayload(data.Type, data.Payload)
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "payload", Error: errors.Cause(err).Error()})
	}

	m, err := api.queue.Add(claims.MadrasahID, data.Table, payload)
	if err != nil {
		return writeError(err, "queueing mutation")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *syncApi) drop(ctx echo.Context) error {
	api.queue.Remove(ctx.Param("id"))
	return ctx.NoContent(http.StatusNoContent)
}

func (api *syncApi) replay(ctx echo.Context) error {
	report, err := api.queue.Replay(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "replaying queue")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *syncApi) setConnectivity(ctx echo.Context) error {
	var data ConnectivityRequest
	if err := bindJSON(ctx, &data); err != nil {
		return errors.Wrap(err, "binding to ConnectivityRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	started := api.conn.SetOnline(*data.Online)
	return ctx.JSON(http.StatusOK, ConnectivityResponse{Online: *data.Online, ReplayStarted: started})
}

func (api *syncApi) queryDeadLetters(ctx echo.Context) error {
	letters := api.queue.DeadLetters()
	if letters == nil {
		letters = []offline.Mutation{}
	}
	return ctx.JSON(http.StatusOK, letters)
}

func (api *syncApi) requeue(ctx echo.Context) error {
	if err := api.queue.Requeue(ctx.Param("id")); err != nil {
		return errors.Wrap(err, "requeueing dead letter")
	}
	return ctx.NoContent(http.StatusNoContent)
}

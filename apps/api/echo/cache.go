package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
)

type cacheApi struct {
	cache    Cache
	validate *validator.Validate
}

func registerCacheAPI(g *echo.Group, jwt echo.MiddlewareFunc, cache Cache, validate *validator.Validate) {
	api := cacheApi{cache: cache, validate: validate}

	cg := g.Group("/cache/:key", jwt, api.keyMiddleware)
	cg.GET("", api.retrieve)
	cg.PUT("", api.store)
	cg.DELETE("", api.destroy)
}

func (api *cacheApi) keyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if err := api.validate.Var(ctx.Param("key"), "identifier"); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "key", Error: "invalid cache key"})
		}
		return next(ctx)
	}
}

// Handlers

func (api *cacheApi) retrieve(ctx echo.Context) error {
	data, ok := api.cache.GetRaw(ctx.Param("key"))
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSONBlob(http.StatusOK, data)
}

func (api *cacheApi) store(ctx echo.Context) error {
	data, err := bindRawJSON(ctx)
	if err != nil {
		return errors.Wrap(err, "binding snapshot")
	}
	api.cache.SetRaw(ctx.Param("key"), data)
	return ctx.NoContent(http.StatusNoContent)
}

func (api *cacheApi) destroy(ctx echo.Context) error {
	api.cache.Remove(ctx.Param("key"))
	return ctx.NoContent(http.StatusNoContent)
}

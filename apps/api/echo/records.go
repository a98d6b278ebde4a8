package echoapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/database"
)

var (
	// accountantTables are the only collections accountants may write to.
	accountantTables = []string{"fees", "ledger", "transactions"}

	errBackendOffline = errors.New("backend offline")
	errNoSnapshot     = echo.NewHTTPError(http.StatusServiceUnavailable, "backend unreachable and no cached snapshot")
)

type (
	WriteResponse struct {
		Queued bool `json:"queued"`
	}

	RecordsResponse struct {
		Data  []offline.Record `json:"data"`
		Stale bool             `json:"stale"` // served from the local cache
	}
)

type recordDeps struct {
	reader RecordReader
	writer RecordWriter
	cache  Cache
	conn   Connectivity
	tables []string
}

type recordApi struct {
	recordDeps
}

func registerRecordAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps recordDeps) {
	api := recordApi{deps}

	rg := g.Group("/records/:table", jwt, tenantMiddleware, api.tableMiddleware)
	rg.GET("", api.query)
	rg.POST("", api.create)
	rg.PATCH("/:id", api.update)
	rg.DELETE("/:id", api.destroy)
}

func (api *recordApi) tableMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		table := ctx.Param("table")
		if !core.ContainsString(api.tables, table) {
			return errHttpNotFound
		}
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		write := ctx.Request().Method != http.MethodGet
		if write && claims.Role == RoleAccountant && !core.ContainsString(accountantTables, table) {
			return errHttpForbidden
		}
		return next(ctx)
	}
}

// Handlers

// query reads the collection through the local cache: fresh from the backend when it is
// reachable, the last snapshot otherwise.
func (api *recordApi) query(ctx echo.Context) error {
	table := ctx.Param("table")
	ordering := new(Ordering)
	if err := ordering.Bind(ctx); err != nil {
		return err
	}
	limit, err := bindLimit(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	filter := database.Filter{OrderBy: ordering.Orderings, Limit: limit}
	if claims.MadrasahID != "" {
		filter.Eq = map[string]interface{}{offline.TenantField: claims.MadrasahID}
	}
	fetch := func(c context.Context) (interface{}, error) {
		if !api.conn.IsOnline() {
			return nil, errBackendOffline
		}
		return api.reader.Query(c, table, filter)
	}

	res := RecordsResponse{}
	res.Stale, err = api.cache.Load(ctx.Request().Context(), snapshotKey(table, filter), &res.Data, fetch)
	if err != nil {
		if errors.Cause(err) == errBackendOffline {
			return errNoSnapshot
		}
		return errors.Wrapf(err, "loading %s", table)
	}
	if res.Data == nil {
		res.Data = []offline.Record{}
	}
	return ctx.JSON(http.StatusOK, res)
}

// snapshotKey is the cache key of a query. Only the whole collection is cached under the table name.
func snapshotKey(table string, filter database.Filter) string {
	params := url.Values{}
	for _, ord := range filter.OrderBy {
		field := ord.Field
		if !ord.Ascending {
			field = "-" + field
		}
		params.Add(orderingParam, field)
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}
	if len(params) == 0 {
		return table
	}
	return table + "?" + params.Encode()
}

// recordKey scopes the record of the :id param to the caller's madrasah.
func recordKey(ctx echo.Context) (offline.Key, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return offline.Key{}, errors.Wrap(err, "getting context claims")
	}
	return offline.Key{ID: ctx.Param("id"), Tenant: claims.MadrasahID}, nil
}

func (api *recordApi) create(ctx echo.Context) error {
	var record offline.Record
	if err := bindJSON(ctx, &record); err != nil {
		return errors.Wrap(err, "binding to Record")
	}
	if record == nil {
		return errInvalidBody
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if claims.MadrasahID != "" {
		record[offline.TenantField] = claims.MadrasahID
	}

	queued, err := api.writer.Insert(ctx.Request().Context(), ctx.Param("table"), record)
	if err != nil {
		return writeError(err, "inserting record")
	}
	return ctx.JSON(http.StatusCreated, WriteResponse{Queued: queued})
}

func (api *recordApi) update(ctx echo.Context) error {
	var patch offline.Record
	if err := bindJSON(ctx, &patch); err != nil {
		return errors.Wrap(err, "binding to Record")
	}
	if patch == nil {
		return errInvalidBody
	}
	// tenancy and primary key are not patchable
	delete(patch, "id")
	delete(patch, offline.TenantField)

	key, err := recordKey(ctx)
	if err != nil {
		return err
	}
	queued, err := api.writer.Update(ctx.Request().Context(), ctx.Param("table"), key, patch)
	if err != nil {
		return writeError(err, "updating record")
	}
	return ctx.JSON(http.StatusOK, WriteResponse{Queued: queued})
}

func (api *recordApi) destroy(ctx echo.Context) error {
	key, err := recordKey(ctx)
	if err != nil {
		return err
	}
	queued, err := api.writer.Delete(ctx.Request().Context(), ctx.Param("table"), key)
	if err != nil {
		return writeError(err, "deleting record")
	}
	return ctx.JSON(http.StatusOK, WriteResponse{Queued: queued})
}

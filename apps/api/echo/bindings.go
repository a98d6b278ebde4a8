package echoapi

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
)

var errInvalidBody = core.NewValidationError(errors.New("invalid JSON body"))

// bindJSON decodes the request body into dst, keeping numbers as json.Number
// so that record values reach the backend unchanged.
func bindJSON(ctx echo.Context, dst interface{}) error {
	dec := json.NewDecoder(ctx.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return core.NewValidationError(errors.New("empty body"))
		}
		return errInvalidBody
	}
	return nil
}

// bindRawJSON reads the request body, which must be a valid JSON document.
func bindRawJSON(ctx echo.Context) (json.RawMessage, error) {
	data, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading body")
	}
	if !json.Valid(data) {
		return nil, errInvalidBody
	}
	return json.RawMessage(data), nil
}

const (
	orderingParam = "ordering"
	limitParam    = "limit"
)

// Ordering binds `?ordering=-created_at,name` to DB orderings. A leading "-" sorts descending.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) error {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return nil
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if !core.IsIdentifier(field) {
			return core.NewValidationError(nil, core.FieldError{Field: orderingParam, Error: "invalid field " + strconv.Quote(field)})
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
	return nil
}

func bindLimit(ctx echo.Context) (int, error) {
	val := ctx.QueryParam(limitParam)
	if val == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(val)
	if err != nil || limit < 0 {
		return 0, core.NewValidationError(nil, core.FieldError{Field: limitParam, Error: "must be a positive number"})
	}
	return limit, nil
}

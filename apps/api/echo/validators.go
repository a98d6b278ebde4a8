package echoapi

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
)

var (
	mutationTypeTag  = "mutation_type"
	mutationTypeText = "must be one of INSERT, UPDATE, DELETE"

	tableNameTag  = "table_name"
	tableNameText = "unknown table"
)

// initValidators registers the API's validation tags. tables is the write whitelist.
func initValidators(validate *validator.Validate, translator ut.Translator, tables []string) {
	_ = validate.RegisterValidation(mutationTypeTag, func(fl validator.FieldLevel) bool {
		return offline.MutationType(fl.Field().String()).Valid()
	})
	core.RegisterCustomTranslation(validate, translator, mutationTypeTag, mutationTypeText)

	_ = validate.RegisterValidation(tableNameTag, func(fl validator.FieldLevel) bool {
		table := fl.Field().String()
		return core.IsIdentifier(table) && core.ContainsString(tables, table)
	})
	core.RegisterCustomTranslation(validate, translator, tableNameTag, tableNameText)
}

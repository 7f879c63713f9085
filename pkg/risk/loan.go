// Package risk turns a loan and a gold price into collateral metrics, a risk
// tier and an ordered list of explanatory rule hits.
package risk

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/loan.schema.json
var loanSchemaJSON string

const loanSchemaURL = "https://goldeval.schemas.local/loan.schema.json"

var loanSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(loanSchemaURL, strings.NewReader(loanSchemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile(loanSchemaURL)
}()

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("risk: validation error")

// FieldError is one schema violation. Field is empty for object-level
// problems such as missing properties.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a loan document.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid loan: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type CollateralType string

const (
	CollateralJewellery CollateralType = "jewellery"
	CollateralBar       CollateralType = "bar"
)

// Loan is a validated loan request.
type Loan struct {
	LoanID         string         `json:"loan_id,omitempty"`
	ShopID         string         `json:"shop_id,omitempty"`
	PrincipalMYR   float64        `json:"principal_myr"`
	GoldWeightG    float64        `json:"gold_weight_g"`
	Purity         int            `json:"purity"`
	TenureDays     int            `json:"tenure_days"`
	CollateralType CollateralType `json:"collateral_type,omitempty"`
}

// ParseLoan decodes and validates a loan document. Unknown fields are
// ignored; a missing collateral type means jewellery.
func ParseLoan(data []byte) (Loan, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return Loan{}, &ValidationError{Fields: []FieldError{{Message: "invalid JSON: " + err.Error()}}}
	}
	if err := loanSchema.Validate(generic); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return Loan{}, &ValidationError{Fields: fieldErrors(ve)}
		}
		return Loan{}, fmt.Errorf("risk: validate loan: %w", err)
	}

	var loan Loan
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&loan); err != nil {
		return Loan{}, &ValidationError{Fields: []FieldError{{Message: err.Error()}}}
	}
	if loan.CollateralType == "" {
		loan.CollateralType = CollateralJewellery
	}
	return loan, nil
}

func fieldErrors(ve *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, FieldError{
				Field:   strings.ReplaceAll(strings.TrimPrefix(e.InstanceLocation, "/"), "/", "."),
				Message: e.Message,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

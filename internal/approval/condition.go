package approval

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
)

// Operator compares a document field with a step value.
type Operator string

const (
	OpGT    Operator = ">"
	OpGTE   Operator = ">="
	OpLT    Operator = "<"
	OpLTE   Operator = "<="
	OpEQ    Operator = "="
	OpNEQ   Operator = "!="
	OpIn    Operator = "IN"
	OpNotIn Operator = "NOT_IN"
)

// Condition activates a step only when it holds for the document.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Evaluate applies the condition to doc. A field the document does not
// expose evaluates to false.
func (c Condition) Evaluate(doc Approvable) (bool, error) {
	actual, ok := doc.ApprovalField(c.Field)
	if !ok || actual == nil {
		return false, nil
	}
	switch c.Operator {
	case OpEQ:
		return equal(actual, c.Value), nil
	case OpNEQ:
		return !equal(actual, c.Value), nil
	case OpIn, OpNotIn:
		list, err := asList(c.Value)
		if err != nil {
			return false, err
		}
		found := false
		for _, v := range list {
			if equal(actual, v) {
				found = true
				break
			}
		}
		if c.Operator == OpIn {
			return found, nil
		}
		return !found, nil
	case OpGT, OpGTE, OpLT, OpLTE:
		a, okA := toDecimal(actual)
		b, okB := toDecimal(c.Value)
		if !okA || !okB {
			return false, fmt.Errorf("approval: operator %s needs numeric operands for field %s", c.Operator, c.Field)
		}
		cmp := a.Cmp(b)
		switch c.Operator {
		case OpGT:
			return cmp > 0, nil
		case OpGTE:
			return cmp >= 0, nil
		case OpLT:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, fmt.Errorf("approval: unknown operator %q", c.Operator)
	}
}

func equal(a, b any) bool {
	da, okA := toDecimal(a)
	db, okB := toDecimal(b)
	if okA && okB {
		return da.Equal(db)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}

func asList(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("approval: IN/NOT_IN value must be a list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

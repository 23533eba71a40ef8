package sql

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// oracleAmpersand breaks an ampersand out of a quoted literal so SQL*Plus style clients do
// not treat it as a substitution variable.
const oracleAmpersand = "' || CHR(38) || '"

var numericLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// MaterializeOptions controls literal inlining.
type MaterializeOptions struct {
	// RejectInjection fails materialization when an unquoted literal looks like SQL injection.
	// When false the hit is only logged.
	RejectInjection bool
	Logger          *zap.Logger
	// OnInjection, when set, receives every flagged literal in place of the warning log.
	OnInjection func(hit InjectionCheckResult, rejected bool)
}

// Materialize prepares q for execution with the resolved parameters.
//
// Procedure shapes pass through unchanged. For text shapes every parameter that can be
// written as a literal is inlined at its placeholder (@name for MSSQL, :name for Oracle) and
// dropped from the bind list, leaving only structured, binary and ref-cursor parameters.
// q is never modified.
func Materialize(q *models.QuerySpecification, params []models.DatabaseParameter, backend models.Backend, opts MaterializeOptions) (models.Statement, error) {
	if q.Shape.IsProcedure() {
		bound := make([]models.DatabaseParameter, len(params))
		copy(bound, params)
		return models.Statement{Text: q.Query, Procedure: true, Parameters: bound}, nil
	}
	if !q.Shape.IsText() {
		return models.Statement{}, apperrors.Configuration("query %q has no execution shape", q.Key)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	literals := make(map[string]string, len(params))
	remaining := make([]models.DatabaseParameter, 0, len(params))

	for _, p := range params {
		if p.Kind.RequiresBinding() {
			remaining = append(remaining, p)
			continue
		}

		lit, raw := RenderLiteral(p.Value, backend)
		if raw && lit != "" && !numericLiteral.MatchString(lit) {
			if hit := CheckLiteralForInjection(p.Name, lit); hit != nil {
				switch {
				case opts.OnInjection != nil:
					opts.OnInjection(*hit, opts.RejectInjection)
				case !opts.RejectInjection:
					logger.Warn("Potential SQL injection inlined",
						zap.String("query_key", q.Key),
						zap.String("param_name", p.Name),
						zap.String("fingerprint", hit.Fingerprint))
				}
				if opts.RejectInjection {
					return models.Statement{}, apperrors.Validation("value for %q was rejected as potential SQL injection (fingerprint %s)", p.Name, hit.Fingerprint)
				}
			}
		}
		literals[strings.ToLower(p.Name)] = lit
	}

	text := scanPlaceholders(q.Query, PlaceholderPrefix(backend), func(name string) (string, bool) {
		lit, ok := literals[strings.ToLower(name)]
		return lit, ok
	})

	return models.Statement{Text: text, Procedure: false, Parameters: remaining}, nil
}

// RenderLiteral renders v as SQL literal text for the backend. The boolean reports whether the
// text was inlined raw (unquoted), which is the case for NULL, booleans, numbers and
// empty, numeric-looking or comma-bearing strings. Arrays render element-wise joined by commas.
func RenderLiteral(v any, backend models.Backend) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "NULL", true
	case bool:
		if x {
			return "1", true
		}
		return "0", true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case decimal.Decimal:
		return x.String(), true
	case time.Time:
		return quote(x.Format("2006-01-02 15:04:05.000"), backend), false
	case string:
		return renderString(x, backend)
	case []any:
		parts := make([]string, len(x))
		raw := true
		for i, e := range x {
			lit, r := RenderLiteral(e, backend)
			parts[i] = lit
			raw = raw && r
		}
		return strings.Join(parts, ","), raw
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		elems := make([]any, rv.Len())
		for i := range elems {
			elems[i] = rv.Index(i).Interface()
		}
		return RenderLiteral(elems, backend)
	}
	return renderString(fmt.Sprint(v), backend)
}

func renderString(s string, backend models.Backend) (string, bool) {
	if s == "" || numericLiteral.MatchString(s) || strings.Contains(s, ",") {
		return s, true
	}
	return quote(s, backend), false
}

func quote(s string, backend models.Backend) string {
	lit := "'" + strings.ReplaceAll(s, "'", "''") + "'"
	if backend == models.BackendOracle {
		lit = strings.ReplaceAll(lit, "&", oracleAmpersand)
	}
	return lit
}

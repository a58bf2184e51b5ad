package evaluate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/rules"
)

// Evaluate applies a condition tree to the context. Composites short-circuit;
// a composite missing its logicalOperator is treated as AND. A nil condition
// never matches.
func Evaluate(c *rules.Condition, ctx *Context) bool {
	if c == nil {
		return false
	}
	if c.IsComposite() || len(c.Rules) > 0 {
		op := c.LogicalOperator
		if op == "" {
			op = "AND"
		}
		switch op {
		case "AND":
			for _, child := range c.Rules {
				if !Evaluate(child, ctx) {
					return false
				}
			}
			return len(c.Rules) > 0
		case "OR":
			for _, child := range c.Rules {
				if Evaluate(child, ctx) {
					return true
				}
			}
			return false
		case "NOT":
			for _, child := range c.Rules {
				if Evaluate(child, ctx) {
					return false
				}
			}
			return len(c.Rules) > 0
		default:
			logging.Get(logging.CategoryRules).Warn("unknown logical operator",
				zap.String("operator", op))
			return false
		}
	}
	return evaluateLeaf(c, ctx)
}

func evaluateLeaf(c *rules.Condition, ctx *Context) bool {
	val, found := ctx.Resolve(c.Field)

	switch c.Operator {
	case "exists":
		return found
	case "notExists":
		return !found
	}
	// A missing field never satisfies a concrete comparison.
	if !found {
		return c.Operator == "!="
	}

	switch c.Operator {
	case "==":
		return equal(val, c.Value)
	case "!=":
		return !equal(val, c.Value)
	case ">", ">=", "<", "<=":
		a, aok := toNumber(val)
		b, bok := toNumber(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Operator {
		case ">":
			return a > b
		case ">=":
			return a >= b
		case "<":
			return a < b
		default:
			return a <= b
		}
	case "contains":
		if list, ok := toStringList(val); ok {
			want := strings.ToLower(toString(c.Value))
			for _, s := range list {
				if strings.ToLower(s) == want {
					return true
				}
			}
			return false
		}
		return strings.Contains(strings.ToLower(toString(val)), strings.ToLower(toString(c.Value)))
	case "startsWith":
		return strings.HasPrefix(strings.ToLower(toString(val)), strings.ToLower(toString(c.Value)))
	case "endsWith":
		return strings.HasSuffix(strings.ToLower(toString(val)), strings.ToLower(toString(c.Value)))
	case "in":
		opts, ok := toStringList(c.Value)
		if !ok {
			return false
		}
		got := strings.ToLower(toString(val))
		for _, o := range opts {
			if strings.ToLower(o) == got {
				return true
			}
		}
		return false
	case "matches":
		re, err := regexp.Compile(toString(c.Value))
		if err != nil {
			logging.Get(logging.CategoryRules).Warn("invalid regex in rule condition",
				zap.String("field", c.Field),
				zap.String("pattern", toString(c.Value)),
				zap.Error(err))
			return false
		}
		return re.MatchString(toString(val))
	}

	logging.Get(logging.CategoryRules).Warn("unknown condition operator",
		zap.String("operator", c.Operator), zap.String("field", c.Field))
	return false
}

// equal compares loosely: numbers numerically, booleans against Yes/No and
// true/false spellings, strings case-insensitively.
func equal(a, b interface{}) bool {
	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			return an == bn
		}
	}
	if ab, aok := toBool(a); aok {
		if bb, bok := toBool(b); bok {
			return ab == bb
		}
	}
	return strings.EqualFold(toString(a), toString(b))
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "yes", "true":
			return true, true
		case "no", "false":
			return false, true
		}
	}
	return false, false
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case []string:
		return strings.Join(s, ",")
	}
	return fmt.Sprintf("%v", v)
}

func toStringList(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, toString(item))
		}
		return out, true
	}
	return nil, false
}

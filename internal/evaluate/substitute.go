package evaluate

import "regexp"

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// Substitute replaces {a.b.c} placeholders with values from the context.
// Unknown paths resolve to the empty string. The same resolver as the
// condition evaluator is used, so {ai.answer} follows the current-rule scope.
func Substitute(template string, ctx *Context) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		path := m[1 : len(m)-1]
		val, ok := ctx.Resolve(path)
		if !ok {
			return ""
		}
		return toString(val)
	})
}

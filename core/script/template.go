package script

import (
	"regexp"

	"github.com/goccy/go-json"

	"github.com/pretendo-dev/pretendo/core/apierror"
)

var placeholderRegexp = regexp.MustCompile(`\{:?([A-Za-z_][A-Za-z0-9_]*)\}`)

// RenderTemplate materializes a static JSON response. String values may
// contain {name} or {:name} placeholders, which are substituted with the
// same-named path parameter. Unknown names leave the placeholder intact.
func RenderTemplate(raw json.RawMessage, params map[string]string) (interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, apierror.Wrap(apierror.KindConfigInvalid, err, "custom route response is not valid JSON")
	}
	return substitute(value, params), nil
}

func substitute(value interface{}, params map[string]string) interface{} {
	switch v := value.(type) {
	case string:
		return placeholderRegexp.ReplaceAllStringFunc(v, func(match string) string {
			name := placeholderRegexp.FindStringSubmatch(match)[1]
			if replacement, ok := params[name]; ok {
				return replacement
			}
			return match
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, e := range v {
			out[k] = substitute(e, params)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = substitute(e, params)
		}
		return out
	default:
		return v
	}
}

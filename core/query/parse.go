package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pretendo-dev/pretendo/core/apierror"
)

// reserved query parameters that are not field filters
var reservedParams = map[string]bool{
	"page": true, "perPage": true, "sortBy": true, "fields": true, "expand": true,
}

// ParseValues decodes the list-endpoint query string into typed options.
//
// Recognized parameters: page, perPage, sortBy (comma-separated, each
// "field" or "field.asc|desc"), fields, expand, and per-field filters in
// flat form field=value (operator eq) or bracketed form field[op]=value.
// A leading "i:" on the field name enables case-insensitive comparison.
// Numeric-looking values are parsed to numbers; in/nin accept
// comma-separated lists.
func ParseValues(values url.Values, defaultPerPage int) (Options, error) {
	opt := Options{Page: 1, PerPage: defaultPerPage}
	var err error
	for key, array := range values {
		if len(array) == 0 {
			continue
		}
		value := array[0]
		switch key {
		case "page":
			opt.Page, err = strconv.Atoi(value)
			if err != nil {
				return opt, apierror.New(apierror.KindBadRequest, "parameter 'page': not a number")
			}
		case "perPage":
			opt.PerPage, err = strconv.Atoi(value)
			if err != nil {
				return opt, apierror.New(apierror.KindBadRequest, "parameter 'perPage': not a number")
			}
		case "sortBy":
			opt.Sort = parseSort(value)
		case "fields":
			opt.Fields = splitNonEmpty(value)
		case "expand":
			opt.Expand = splitNonEmpty(value)
		default:
			for _, v := range array {
				f, ferr := parseFilter(key, v)
				if ferr != nil {
					return opt, ferr
				}
				opt.Filters = append(opt.Filters, f)
			}
		}
	}
	return opt, nil
}

func parseSort(value string) []SortKey {
	var keys []SortKey
	for _, part := range splitNonEmpty(value) {
		key := SortKey{Field: part}
		if i := strings.LastIndexByte(part, '.'); i >= 0 {
			switch part[i+1:] {
			case "desc":
				key = SortKey{Field: part[:i], Desc: true}
			case "asc":
				key = SortKey{Field: part[:i]}
			}
		}
		keys = append(keys, key)
	}
	return keys
}

// parseFilter decodes one filter parameter, either "field" or "field[op]".
func parseFilter(key, value string) (Filter, error) {
	f := Filter{Op: OpEq}
	if i := strings.IndexByte(key, '['); i >= 0 && strings.HasSuffix(key, "]") {
		op := Op(key[i+1 : len(key)-1])
		if !validOps[op] {
			return f, apierror.New(apierror.KindBadRequest, "unknown filter operator %q", string(op))
		}
		f.Op = op
		key = key[:i]
	}
	if strings.HasPrefix(key, "i:") {
		f.CaseInsensitive = true
		key = key[2:]
	}
	if key == "" || reservedParams[key] {
		return f, apierror.New(apierror.KindBadRequest, "invalid filter field %q", key)
	}
	f.Field = key

	if f.Op == OpIn || f.Op == OpNin {
		parts := strings.Split(value, ",")
		list := make([]interface{}, len(parts))
		for i, p := range parts {
			list[i] = coerceValue(p)
		}
		f.Value = list
	} else {
		f.Value = coerceValue(value)
	}
	return f, nil
}

// coerceValue turns numeric strings into numbers and the literals true,
// false and null into their typed values.
func coerceValue(s string) interface{} {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

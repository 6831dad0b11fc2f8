package core

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Action represents a REST action on a resource, one of List, Get, Create, Update, Delete
type Action string

// all supported resource actions
const (
	ActionList   Action = "list"
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = Action(s)
	switch *a {
	case ActionList, ActionGet, ActionCreate, ActionUpdate, ActionDelete:
		return nil
	default:
		return &json.UnmarshalTypeError{Value: s, Struct: "Action"}
	}
}

// DeriveAction maps an HTTP method to the resource action it performs.
// A GET with an id in the path is a get, without an id it is a list.
func DeriveAction(method string, hasID bool) Action {
	switch method {
	case "GET", "HEAD":
		if hasID {
			return ActionGet
		}
		return ActionList
	case "POST":
		return ActionCreate
	case "PUT", "PATCH":
		return ActionUpdate
	case "DELETE":
		return ActionDelete
	}
	return ActionList
}

// NormalizeKey brings a primary-key or ownership value into canonical string
// form for comparison: strings are trimmed, numbers lose a trailing ".0".
// JSON decoding hands us float64 for every number, so 10 and "10" and 10.0
// must all normalize to "10".
func NormalizeKey(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// KeysEqual compares two primary-key or ownership values with the loose
// equality used for ids: string-trimmed and numerically normalized.
func KeysEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	return NormalizeKey(a) == NormalizeKey(b)
}

package store

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/query"
)

// Mode selects which rules apply during validation and default processing.
type Mode int

// validation and default-processing modes
const (
	ModeCreate Mode = iota
	ModeUpdate
)

// Violation is a single failed field rule.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

var patternCache sync.Map // pattern string -> *regexp.Regexp

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// Validate evaluates all field rules of a record against the collection
// snapshot. required applies in create mode only; everything else applies
// in both modes, with rules skipped for fields that are absent in update
// mode. Patterns match as substrings (the regexp default), anchoring is up
// to the configured pattern. A non-empty violation list fails with kind
// validation.
func Validate(record core.Record, fields []config.Field, snapshot []core.Record, primaryKey string, mode Mode) error {
	var violations []Violation
	fail := func(field, rule, format string, args ...interface{}) {
		violations = append(violations, Violation{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	for _, f := range fields {
		value, present := record[f.Name]
		if !present {
			if f.Required && mode == ModeCreate {
				fail(f.Name, "required", "%s is required", f.Name)
			}
			continue
		}
		if s, ok := value.(string); ok {
			if f.MinLength != nil && len([]rune(s)) < *f.MinLength {
				fail(f.Name, "minLength", "%s must be at least %d characters", f.Name, *f.MinLength)
			}
			if f.MaxLength != nil && len([]rune(s)) > *f.MaxLength {
				fail(f.Name, "maxLength", "%s must be at most %d characters", f.Name, *f.MaxLength)
			}
			if f.Pattern != "" {
				re, err := compiledPattern(f.Pattern)
				if err != nil {
					fail(f.Name, "pattern", "invalid pattern for %s", f.Name)
				} else if !re.MatchString(s) {
					fail(f.Name, "pattern", "%s does not match pattern", f.Name)
				}
			}
		}
		if n, ok := asNumber(value); ok {
			if f.Min != nil && n < *f.Min {
				fail(f.Name, "min", "%s must be >= %v", f.Name, *f.Min)
			}
			if f.Max != nil && n > *f.Max {
				fail(f.Name, "max", "%s must be <= %v", f.Name, *f.Max)
			}
		}
		if len(f.Enum) > 0 {
			found := false
			for _, candidate := range f.Enum {
				if value == candidate || numericEqual(value, candidate) {
					found = true
					break
				}
			}
			if !found {
				fail(f.Name, "enum", "%s must be one of the enumerated values", f.Name)
			}
		}
		if f.Unique {
			self := record[primaryKey]
			for _, other := range snapshot {
				if core.KeysEqual(other[primaryKey], self) {
					continue
				}
				if query.Match(other, query.Filter{Field: f.Name, Op: query.OpEq, Value: value}) {
					fail(f.Name, "unique", "%s must be unique", f.Name)
					break
				}
			}
		}
	}
	if len(violations) > 0 {
		return apierror.New(apierror.KindValidation, "validation failed").
			WithCode("validation_failed").WithDetails(violations)
	}
	return nil
}

func numericEqual(a, b interface{}) bool {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	return aok && bok && an == bn
}

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/config"
)

// hexHashRe recognizes values that already look like a hex digest. Hashed
// values must not be re-hashed, re-posting a stored record is a no-op.
var hexHashRe = regexp.MustCompile(`^[0-9a-fA-F]{40,128}$`)

// ApplyDefaults fills in default values for absent fields before insertion
// and, for the reduced update set, before updates.
//
// Special tokens: $now, $uuid, $userId, $increment (one more than the
// maximum numeric value of the field across the collection, or 1).
// Literal defaults apply in create mode only. On update, only a field
// literally named updatedAt with default $now is refreshed.
func (s *Store) ApplyDefaults(name string, record core.Record, fields []config.Field, mode Mode, subjectID interface{}) {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, f := range fields {
		if f.DefaultValue == nil {
			continue
		}
		token, isToken := f.DefaultValue.(string)
		if mode == ModeUpdate {
			// createdAt and $increment style defaults must not re-apply
			if f.Name == "updatedAt" && token == config.TokenNow {
				record[f.Name] = now
			}
			continue
		}
		if _, present := record[f.Name]; present {
			continue
		}
		if !isToken || !strings.HasPrefix(token, "$") {
			record[f.Name] = core.DeepCopyValue(f.DefaultValue)
			continue
		}
		switch token {
		case config.TokenNow:
			record[f.Name] = now
		case config.TokenUUID:
			record[f.Name] = uuid.New().String()
		case config.TokenUserID:
			record[f.Name] = subjectID
		case config.TokenIncrement:
			if max, ok := s.MaxNumeric(name, f.Name); ok {
				record[f.Name] = max + 1
			} else {
				record[f.Name] = float64(1)
			}
		case config.TokenHash:
			// handled by ApplyHashes below
		default:
			record[f.Name] = token
		}
	}
}

// ApplyHashes replaces plain secrets with their lowercase hex SHA-256: every
// field with a $hash default, and every field whose name contains
// "password" case-insensitively. Values that already look like a hex hash
// of length 40-128 are left alone.
func ApplyHashes(record core.Record, fields []config.Field) {
	hashDefault := map[string]bool{}
	for _, f := range fields {
		if s, ok := f.DefaultValue.(string); ok && s == config.TokenHash {
			hashDefault[f.Name] = true
		}
	}
	for key, value := range record {
		if !hashDefault[key] && !strings.Contains(strings.ToLower(key), "password") {
			continue
		}
		s, ok := value.(string)
		if !ok || hexHashRe.MatchString(s) {
			continue
		}
		record[key] = HashSecret(s)
	}
}

// HashSecret returns the lowercase hex SHA-256 of the string.
func HashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

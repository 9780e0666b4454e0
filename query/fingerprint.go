// Package query composes the cache and the read router into the
// operation surface callers use: cache-first reads, write-through
// writes with synchronous invalidation, and deterministic operation
// fingerprints tying the two together.
package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// maxLiteralLen bounds how long a parameter value may appear verbatim
// in a cache key before it is replaced by its hash.
const maxLiteralLen = 32

// identityParams are the entity-identifying parameter names, in the
// fixed order they appear at the front of a cache key. Keeping them
// ahead of the remaining (sorted) parameters is what lets an
// invalidation prefix like "userSummary:userId=7" cover every cached
// variant of that user's summary, whatever other parameters the read
// carried.
var identityParams = []string{"id", "userId", "examId", "objectiveId", "sessionId", "attemptId"}

// Key derives the deterministic cache key for an operation: the
// operation name, then any identity parameters in their fixed order,
// then the remaining parameters sorted by name. Two logically
// equivalent reads always produce the same key regardless of parameter
// order.
func Key(op types.Operation) string {
	if len(op.Params) == 0 {
		return op.Name
	}

	key := op.Name
	used := make(map[string]bool, len(identityParams))
	for _, name := range identityParams {
		if value, ok := op.Params[name]; ok {
			key += types.KeySeparator + name + "=" + paramSegment(value)
			used[name] = true
		}
	}

	names := make([]string, 0, len(op.Params))
	for name := range op.Params {
		if !used[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		key += types.KeySeparator + name + "=" + paramSegment(op.Params[name])
	}
	return key
}

// Prefix builds an invalidation prefix from an operation name and an
// ordered list of identifying parameters, in the same encoding Key
// uses. Prefix("userSummary", "userId", 7) == "userSummary:userId=7".
func Prefix(opName string, pairs ...any) string {
	prefix := opName
	for i := 0; i+1 < len(pairs); i += 2 {
		prefix += types.KeySeparator + fmt.Sprint(pairs[i]) + "=" + paramSegment(pairs[i+1])
	}
	return prefix
}

// paramSegment renders a parameter value as a key segment. Scalars
// appear literally; anything structured, longer than the literal
// bound, or containing key syntax collapses to an xxhash of its
// canonical JSON so keys stay short, deterministic and unambiguous. A
// string carrying ":" or "=" must never appear verbatim: it would
// forge extra segments, colliding with other operations' keys and
// escaping its own invalidation-prefix scope.
func paramSegment(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if len(val) <= maxLiteralLen && !strings.ContainsAny(val, types.KeySeparator+"=") {
			return val
		}
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		// JSON numbers decode as float64; render integers without a
		// fraction so 42 and 42.0 fingerprint identically.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	}

	canonical, err := json.Marshal(v)
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", v))
	}
	return strconv.FormatUint(xxhash.Sum64(canonical), 16)
}

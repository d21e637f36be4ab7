// ABOUTME: Parses a job's argument string into module parameters
// ABOUTME: Accepts a JSON object or whitespace-separated key=value tokens

package agent

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseArguments turns a job's argument string into parameters.
//
// A JSON object maps to its fields: strings as-is, other values as their JSON
// text, nulls dropped. Anything else is split on whitespace; a key=value token
// (split at the first '=') sets key, and every other token, including one with
// an empty key, is positional and named arg0, arg1, ... in order.
func ParseArguments(raw string) map[string]string {
	params := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return params
	}

	if strings.HasPrefix(raw, "{") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			for k, v := range obj {
				var s string
				if err := json.Unmarshal(v, &s); err == nil {
					params[k] = s
					continue
				}
				if string(v) == "null" {
					continue
				}
				params[k] = string(v)
			}
			return params
		}
	}

	n := 0
	for _, tok := range strings.Fields(raw) {
		if key, val, ok := strings.Cut(tok, "="); ok && key != "" {
			params[key] = val
			continue
		}
		params["arg"+strconv.Itoa(n)] = tok
		n++
	}
	return params
}

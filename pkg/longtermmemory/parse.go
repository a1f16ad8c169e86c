package longtermmemory

import (
	"fmt"
	"strconv"

	"github.com/entrhq/memoryd/pkg/types"
)

// parseSearchReply decodes an FT.SEARCH reply of the form
// [count, key, [field, value, ...], key, [field, value, ...], ...].
// Unknown fields are ignored; records missing role, content or distance
// are dropped.
func parseSearchReply(reply any) ([]types.SearchResult, error) {
	items, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("longtermmemory: unexpected search reply type %T", reply)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("longtermmemory: empty search reply")
	}

	results := []types.SearchResult{}
	for i := 1; i+1 < len(items); i += 2 {
		fields, ok := items[i+1].([]any)
		if !ok {
			debugLog.Debugf("dropping search record %v: fields are %T", items[i], items[i+1])
			continue
		}
		r, ok := parseRecord(fields)
		if !ok {
			debugLog.Debugf("dropping malformed search record %v", items[i])
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func parseRecord(fields []any) (types.SearchResult, bool) {
	var (
		r                            types.SearchResult
		hasRole, hasContent, hasDist bool
	)
	for j := 0; j+1 < len(fields); j += 2 {
		name, ok := asString(fields[j])
		if !ok {
			continue
		}
		value, ok := asString(fields[j+1])
		if !ok {
			continue
		}
		switch name {
		case "role":
			r.Role, hasRole = value, true
		case "content":
			r.Content, hasContent = value, true
		case "distance", "dist":
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return types.SearchResult{}, false
			}
			r.Distance, hasDist = d, true
		}
	}
	return r, hasRole && hasContent && hasDist
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

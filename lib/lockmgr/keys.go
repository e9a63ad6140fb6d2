package lockmgr

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// readSentinel is the value of every read key. Only the key's existence matters.
var readSentinel = []byte("anyvalue")

// NormalizeID turns a lock identifier into the string used in store keys.
//
// A string is used as is. For a slice or an array every element is rendered
// with fmt.Sprint, the results are sorted and joined with ",". A map is
// treated like the slice of its values. Everything else is rendered with
// fmt.Sprint.
//
// Equal collections in any order give the same string. Different ids can
// collide, e.g. []string{"a,b"} and []string{"a", "b"}.
func NormalizeID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case []string:
		parts := append([]string(nil), v...)
		sort.Strings(parts)
		return strings.Join(parts, ",")
	case nil:
		return fmt.Sprint(v)
	}

	rv := reflect.ValueOf(id)
	var parts []string
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts = make([]string, rv.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(rv.Index(i).Interface())
		}
	case reflect.Map:
		parts = make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			parts = append(parts, fmt.Sprint(iter.Value().Interface()))
		}
	default:
		return fmt.Sprint(id)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func readPrefix(idStr string) string {
	return "read:" + idStr + ":"
}

// countReaders counts the read keys in keys that belong to the id of prefix.
// Keys of ids that extend it with ':' share the prefix and are skipped.
func countReaders(prefix string, keys []string) int {
	n := 0
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) && !strings.Contains(k[len(prefix):], ":") {
			n++
		}
	}
	return n
}

func readKey(idStr, token string) string {
	return readPrefix(idStr) + token
}

func writeKey(idStr string) string {
	return "write:" + idStr
}

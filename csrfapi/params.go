package csrfapi

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"

	"github.com/google/go-querystring/query"
)

// encodeParams turns request parameters into form values.
// Supported inputs: nil, url.Values, map[string]string, map[string]any and
// structs (or pointers to structs) tagged for go-querystring.
func encodeParams(p any) (url.Values, error) {
	out := url.Values{}

	switch v := p.(type) {
	case nil:
		// nothing
	case url.Values:
		for k, vs := range v {
			for _, s := range vs {
				out.Add(k, s)
			}
		}
	case map[string]string:
		for k, val := range v {
			out.Set(k, val)
		}
	case map[string]any:
		for k, val := range v {
			addAny(out, k, val)
		}
	default:
		rv := reflect.ValueOf(p)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				break
			}
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			return nil, fmt.Errorf("unsupported params type: %T", p)
		}
		values, err := query.Values(p)
		if err != nil {
			return nil, err
		}
		for k, vs := range values {
			for _, s := range vs {
				out.Add(k, s)
			}
		}
	}
	return out, nil
}

func addAny(out url.Values, key string, val any) {
	if val == nil {
		return
	}

	switch x := val.(type) {
	case string:
		out.Set(key, x)
	case bool:
		out.Set(key, strconv.FormatBool(x))
	case []string:
		for _, s := range x {
			out.Add(key, s)
		}
	case fmt.Stringer:
		out.Set(key, x.String())
	case int:
		out.Set(key, strconv.Itoa(x))
	case int64:
		out.Set(key, strconv.FormatInt(x, 10))
	case float64:
		out.Set(key, strconv.FormatFloat(x, 'f', -1, 64))
	default:
		rv := reflect.ValueOf(val)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				out.Add(key, fmt.Sprint(rv.Index(i).Interface()))
			}
		default:
			out.Set(key, fmt.Sprint(val))
		}
	}
}

package endpoint

import (
	"encoding"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds path, query and header values without a
// maxLength tag. defaultBodyLimit does the same for body fields.
//
// These are vars (not consts) so tests can override them.
var (
	defaultFieldLimit = 16 * 1024
	defaultBodyLimit  = 1 << 20
)

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Supported struct tags, in order of precedence:
//   - `path:"name"`   r.PathValue(name)
//   - `query:"name"`  first value of r.URL.Query()[name]
//   - `header:"name"` first value of the canonicalized header
//   - `body:""`       the whole request body
//
// An empty name defaults to the lowercased field name; "-" ignores the
// field. `maxLength:"n"` bounds the value in bytes ("0" or "" disables the
// limit). Fields may be string, []byte, bool, integer kinds, or implement
// encoding.TextUnmarshaler. Fields with no data are left unchanged.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	rt := root.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		src, name, ok := fieldSource(sf)
		if !ok {
			continue
		}
		limit, err := fieldLengthLimit(sf, src)
		if err != nil {
			return err
		}
		val, found, err := fetch(r, src, name, limit)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if limit > 0 && len(val) > limit {
			status := http.StatusBadRequest
			if src == "body" {
				status = http.StatusRequestEntityTooLarge
			}
			return newEndpointError(status, "", fmt.Errorf("endpoint: decode: %s %q: value exceeds max length %d", src, name, limit))
		}
		if err := setField(root.Field(i), val); err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", src, name, sf.Name, err))
		}
	}
	return nil
}

var sources = []string{"path", "query", "header", "body"}

// fieldSource returns the highest-precedence source tag on sf.
func fieldSource(sf reflect.StructField) (src, name string, ok bool) {
	for _, s := range sources {
		tag, has := sf.Tag.Lookup(s)
		if !has {
			continue
		}
		name = strings.TrimSpace(strings.Split(tag, ",")[0])
		if name == "-" {
			return "", "", false
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		return s, name, true
	}
	return "", "", false
}

func fieldLengthLimit(sf reflect.StructField, src string) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		if src == "body" {
			return defaultBodyLimit, nil
		}
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: maxLength: invalid value %q", val))
	}
	return n, nil
}

func fetch(r *http.Request, src, name string, limit int) ([]byte, bool, error) {
	switch src {
	case "path":
		s := r.PathValue(name)
		return []byte(s), s != "", nil
	case "query":
		if r.URL == nil {
			return nil, false, nil
		}
		values, ok := r.URL.Query()[name]
		if !ok || len(values) == 0 {
			return nil, false, nil
		}
		return []byte(values[0]), true, nil
	case "header":
		values := r.Header[http.CanonicalHeaderKey(name)]
		if len(values) == 0 {
			return nil, false, nil
		}
		return []byte(values[0]), true, nil
	case "body":
		if r.Body == nil || r.Body == http.NoBody {
			return nil, false, nil
		}
		body := io.Reader(r.Body)
		if limit > 0 {
			// Read one byte past the limit so overflow is detectable.
			body = io.LimitReader(r.Body, int64(limit)+1)
		}
		b, err := io.ReadAll(body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, false, newEndpointError(http.StatusRequestEntityTooLarge, "", err)
			}
			return nil, false, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
		}
		return b, true, nil
	}
	return nil, false, nil
}

func setField(v reflect.Value, b []byte) error {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText(b)
	}

	s := string(b)
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
		return nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			v.SetBytes(b)
			return nil
		}
	case reflect.Bool:
		bb, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(bb)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	}
	return fmt.Errorf("unsupported kind %s", v.Kind())
}

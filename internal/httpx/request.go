package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
)

const maxFormBytes = 1 << 20

// fields holds the flat request parameters of a form or JSON body. JSON
// strings are unquoted; other JSON values keep their literal text.
type fields map[string]string

func readFields(r *http.Request) (fields, error) {
	out := fields{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFormBytes)).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: invalid json", subscriptions.ErrValidation)
		}
		for k, v := range raw {
			var s string
			if json.Unmarshal(v, &s) == nil {
				out[k] = strings.TrimSpace(s)
			} else if string(v) != "null" {
				out[k] = string(v)
			}
		}
		return out, nil
	}

	if err := r.ParseMultipartForm(maxFormBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("%w: invalid form", subscriptions.ErrValidation)
	}
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = strings.TrimSpace(v[0])
		}
	}
	return out, nil
}

// int64 parses name. A missing value is 0.
func (f fields) int64(name string) (int64, error) {
	v := f[name]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", subscriptions.ErrValidation, name)
	}
	return n, nil
}

func (f fields) float(name string) (float64, error) {
	v := f[name]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", subscriptions.ErrValidation, name)
	}
	return n, nil
}

func pathID(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", subscriptions.ErrValidation, v)
	}
	return n, nil
}

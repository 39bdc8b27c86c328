package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// decodeBody reads a JSON object or a form submission into a generic map.
// Form keys use bracket notation: "value[r1][]" becomes body["value"]["r1"] as a list.
func decodeBody(r *http.Request) (map[string]any, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, errors.Wrap(err, "decode json body")
		}
		return body, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, errors.Wrap(err, "parse form")
	}
	body := map[string]any{}
	for key, values := range r.PostForm {
		path, list := splitFormKey(key)
		var v any
		switch {
		case list || len(values) > 1:
			items := make([]any, len(values))
			for i, s := range values {
				items[i] = s
			}
			v = items
		case len(values) == 1:
			v = values[0]
		}
		setPath(body, path, v)
	}
	return body, nil
}

// splitFormKey turns "a[b][c][]" into [a b c] and reports the trailing []
func splitFormKey(key string) ([]string, bool) {
	list := strings.HasSuffix(key, "[]")
	key = strings.TrimSuffix(key, "[]")

	head, rest, found := strings.Cut(key, "[")
	if !found {
		return []string{key}, list
	}
	path := []string{head}
	for _, part := range strings.Split(strings.TrimSuffix(rest, "]"), "][") {
		if part != "" {
			path = append(path, part)
		}
	}
	return path, list
}

func setPath(body map[string]any, path []string, v any) {
	cur := body
	for _, p := range path[:len(path)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}

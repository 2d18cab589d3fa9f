package extract

import (
	"encoding/json"
	"strings"
)

// mediaFields are probed in order on every candidate object.
var mediaFields = []string{"url", "video_url"}

// shape is one accepted layout of the extraction API response.
type shape struct {
	name  string
	match func(body map[string]any) (string, bool)
}

// shapes lists the accepted layouts in precedence order; the first match wins.
var shapes = []shape{
	{
		name: "data",
		match: func(body map[string]any) (string, bool) {
			return mediaFrom(body["data"])
		},
	},
	{
		name: "message.data",
		match: func(body map[string]any) (string, bool) {
			msg, ok := body["message"].(map[string]any)
			if !ok {
				return "", false
			}
			return mediaFrom(msg["data"])
		},
	},
	{
		name: "top-level",
		match: func(body map[string]any) (string, bool) {
			return fromObject(body)
		},
	},
}

// ShapeNames returns the accepted response layouts in precedence order.
func ShapeNames() []string {
	out := make([]string, len(shapes))
	for i, s := range shapes {
		out[i] = s.name
	}
	return out
}

// Resolve decodes an extraction API response body and returns the first
// media URL found by the ordered shape matchers.
func Resolve(body []byte) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	return resolveDoc(doc)
}

func resolveDoc(doc map[string]any) (string, bool) {
	for _, s := range shapes {
		if u, ok := s.match(doc); ok {
			return u, true
		}
	}
	return "", false
}

// mediaFrom accepts either a single object or a non-empty list whose first
// element is an object.
func mediaFrom(v any) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		return fromObject(t)
	case []any:
		if len(t) == 0 {
			return "", false
		}
		if obj, ok := t[0].(map[string]any); ok {
			return fromObject(obj)
		}
	}
	return "", false
}

func fromObject(obj map[string]any) (string, bool) {
	for _, f := range mediaFields {
		if s, ok := obj[f].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// upstreamError returns the API's own error message, if it sent one.
func upstreamError(doc map[string]any) string {
	for _, k := range []string{"error", "message"} {
		if s, ok := doc[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

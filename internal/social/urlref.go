package social

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// URLKind tags the shape an upstream URL field arrived in.
type URLKind int

const (
	URLKindNone URLKind = iota
	URLKindString
	URLKindObject
	URLKindList
)

// URLRef decodes the loosely typed URL fields of upstream responses: a bare string,
// an object carrying url, image_url or media_url_https, or an array of either.
type URLRef struct {
	Kind  URLKind
	Value string
	Items []URLRef
}

type urlObject struct {
	URL           string `json:"url"`
	ImageURL      string `json:"image_url"`
	MediaURLHTTPS string `json:"media_url_https"`
}

// UnmarshalJSON dispatches on the first non-space byte of the payload.
func (r *URLRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = URLRef{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*r = URLRef{Kind: URLKindString, Value: value}
	case '{':
		var object urlObject
		if err := json.Unmarshal(trimmed, &object); err != nil {
			return err
		}
		*r = URLRef{Kind: URLKindObject, Value: firstNonEmpty(object.MediaURLHTTPS, object.ImageURL, object.URL)}
	case '[':
		var items []URLRef
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*r = URLRef{Kind: URLKindList, Items: items}
	default:
		return fmt.Errorf("social: unsupported url shape %q", string(trimmed[:1]))
	}
	return nil
}

// URL returns the first non-empty URL carried by the reference.
func (r URLRef) URL() string {
	switch r.Kind {
	case URLKindString, URLKindObject:
		return r.Value
	case URLKindList:
		for _, item := range r.Items {
			if value := item.URL(); value != "" {
				return value
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

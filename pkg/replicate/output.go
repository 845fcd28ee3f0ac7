package replicate

import (
	"encoding/json"
	"strings"
)

// Keys holding the audio location, in priority order.
var urlKeys = []string{"audioUrl", "audio_url", "url", "audio", "output"}

// Wrapper objects some providers nest the payload in.
var wrapperKeys = []string{"result", "data", "prediction"}

// ExtractAudioURL finds the audio URL in a prediction output. Shapes are tried
// in this order:
//
//  1. a string starting with "http"
//  2. an array, first element that is such a string or a file object
//     with a "url" string
//  3. an object with one of urlKeys whose value matches 1, 2 or a file object
//  4. an object with one of wrapperKeys whose value matches 1 to 3
//
// Wrappers are only unwrapped one level.
func ExtractAudioURL(raw json.RawMessage) (string, bool) {
	return extract(raw, 1)
}

func extract(raw json.RawMessage, depth int) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return asURL(s)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return item(raw)
	}
	for _, k := range urlKeys {
		if v, ok := obj[k]; ok {
			if u, ok := item(v); ok {
				return u, true
			}
		}
	}
	if depth <= 0 {
		return "", false
	}
	for _, k := range wrapperKeys {
		if v, ok := obj[k]; ok {
			if u, ok := extract(v, depth-1); ok {
				return u, true
			}
		}
	}
	return "", false
}

// item matches a leaf or an array of leaves.
func item(raw json.RawMessage) (string, bool) {
	if u, ok := leaf(raw); ok {
		return u, true
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return "", false
	}
	for _, v := range arr {
		if u, ok := leaf(v); ok {
			return u, true
		}
	}
	return "", false
}

// leaf matches a URL string or a file object.
func leaf(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return asURL(s)
	}
	var file struct {
		URL *string `json:"url"`
	}
	if err := json.Unmarshal(raw, &file); err == nil && file.URL != nil {
		return asURL(*file.URL)
	}
	return "", false
}

func asURL(s string) (string, bool) {
	if strings.HasPrefix(s, "http") {
		return s, true
	}
	return "", false
}

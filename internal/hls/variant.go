package hls

import (
	"strconv"
	"strings"
)

const (
	tagHeader      = "#EXTM3U"
	tagStreamInf   = "#EXT-X-STREAM-INF"
	attrResolution = "RESOLUTION"
)

// Resolution is the WxH pair of a RESOLUTION attribute.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Variant is one #EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	// Attrs holds every attribute except RESOLUTION, keyed by the
	// lower-cased name with "-" replaced by "_".
	Attrs      map[string]string `json:"attributes"`
	Resolution *Resolution       `json:"resolution,omitempty"`
	// URL is empty when the tag was not followed by a URI line.
	URL string `json:"url,omitempty"`
}

// Bandwidth returns the BANDWIDTH attribute, or 0 when missing or invalid.
func (v Variant) Bandwidth() int64 {
	n, err := strconv.ParseInt(v.Attrs["bandwidth"], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseVariants extracts the stream variants of a master playlist in file
// order. Each variant's URI is the next non-blank line, resolved against
// baseURL. If that line is a tag, or the document ends, the variant has no URL.
func ParseVariants(text, baseURL string) []Variant {
	lines := strings.Split(text, "\n")
	var variants []Variant

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, tagStreamInf) {
			continue
		}

		v := Variant{Attrs: map[string]string{}}
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			for key, value := range ParseAttributes(line[idx+1:]) {
				if key == attrResolution {
					res := parseResolution(value)
					v.Resolution = &res
					continue
				}
				v.Attrs[normalizeAttrName(key)] = value
			}
		}

		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" {
				continue
			}
			if !strings.HasPrefix(next, "#") {
				v.URL = ResolveURL(next, baseURL)
				i = j
			}
			break
		}

		variants = append(variants, v)
	}

	return variants
}

// ParseAttributes tokenizes an HLS attribute list into raw KEY -> VALUE pairs.
// Quoted values lose their quotes and may contain commas; bare values run
// until the next comma. Pairs without "=" are skipped.
func ParseAttributes(list string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	for i < len(list) {
		for i < len(list) && (list[i] == ',' || list[i] == ' ' || list[i] == '\t') {
			i++
		}
		if i >= len(list) {
			break
		}

		eq := strings.IndexByte(list[i:], '=')
		comma := strings.IndexByte(list[i:], ',')
		if eq < 0 || (comma >= 0 && comma < eq) {
			// Token without a value
			if comma < 0 {
				break
			}
			i += comma + 1
			continue
		}

		key := strings.TrimSpace(list[i : i+eq])
		i += eq + 1

		var value string
		if i < len(list) && list[i] == '"' {
			end := strings.IndexByte(list[i+1:], '"')
			if end < 0 {
				value = list[i+1:]
				i = len(list)
			} else {
				value = list[i+1 : i+1+end]
				i += end + 2
			}
		} else {
			end := strings.IndexByte(list[i:], ',')
			if end < 0 {
				value = list[i:]
				i = len(list)
			} else {
				value = list[i : i+end]
				i += end
			}
			value = strings.TrimSpace(value)
		}

		if key != "" {
			attrs[key] = value
		}
	}
	return attrs
}

func normalizeAttrName(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

func parseResolution(value string) Resolution {
	w, h, ok := strings.Cut(strings.ToLower(value), "x")
	if !ok {
		return Resolution{}
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Resolution{}
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Resolution{}
	}
	return Resolution{Width: width, Height: height}
}

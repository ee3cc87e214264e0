package backend

import (
	"bytes"
	"strconv"
	"strings"
)

// ParseCGIOutput splits a raw CGI-style stdout stream into status, headers,
// and body (§4.6). It is shared by the Embedded and FastCGI backends since
// both ultimately emit the same header-block-then-body shape.
func ParseCGIOutput(raw []byte) (status uint16, headers map[string]string, body []byte) {
	headers = make(map[string]string)

	sep := []byte("\r\n\r\n")
	idx := bytes.Index(raw, sep)
	lineSep := "\r\n"
	if idx < 0 {
		sep = []byte("\n\n")
		idx = bytes.Index(raw, sep)
		lineSep = "\n"
	}
	if idx < 0 {
		headers["Content-Type"] = "text/html; charset=UTF-8"
		return 200, headers, raw
	}

	headerBlock := string(raw[:idx])
	body = raw[idx+len(sep):]
	status = 200

	for _, line := range strings.Split(headerBlock, lineSep) {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if strings.EqualFold(name, "Status") {
			fields := strings.Fields(value)
			if len(fields) > 0 {
				if code, err := strconv.Atoi(fields[0]); err == nil && code >= 100 && code < 600 {
					status = uint16(code)
				}
			}
			continue
		}
		headers[name] = value
	}

	if _, ok := headerLookup(headers, "Content-Type"); !ok {
		headers["Content-Type"] = "text/html; charset=UTF-8"
	}
	return status, headers, body
}

func headerLookup(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

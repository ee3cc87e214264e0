package server

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange is a resolved, inclusive [Start, End] byte range against a
// resource of a known total size, grounded on
// original_source/src/server/range.rs's single-range parsing
// (bytes=start-end, bytes=-suffix, bytes=start-).
type ByteRange struct {
	Start int64
	End   int64
}

// Len reports the number of bytes covered by the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

// ErrRangeNotSatisfiable signals the request should get a 416 response; the
// caller must also set a Content-Range: bytes */<size> header.
var ErrRangeNotSatisfiable = fmt.Errorf("range not satisfiable")

// ParseRange parses a single-range "Range" header value against a resource
// of the given total size. A missing or malformed header (anything beyond
// the single-range forms this server supports) is reported via ok=false so
// the caller falls back to a full 200 response, matching the original's
// "multi-range and unparsable headers are ignored, not rejected" behavior.
func ParseRange(header string, size int64) (rng ByteRange, ok bool, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, false, nil
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return ByteRange{}, false, nil // multiple ranges unsupported
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return ByteRange{}, false, nil
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	switch {
	case startStr == "" && endStr != "":
		// bytes=-suffix: last N bytes.
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || n <= 0 {
			return ByteRange{}, false, nil
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1}, true, nil

	case startStr != "" && endStr == "":
		// bytes=start-: from start to EOF.
		start, perr := strconv.ParseInt(startStr, 10, 64)
		if perr != nil || start < 0 {
			return ByteRange{}, false, nil
		}
		if start >= size {
			return ByteRange{}, true, ErrRangeNotSatisfiable
		}
		return ByteRange{Start: start, End: size - 1}, true, nil

	case startStr != "" && endStr != "":
		start, perr1 := strconv.ParseInt(startStr, 10, 64)
		end, perr2 := strconv.ParseInt(endStr, 10, 64)
		if perr1 != nil || perr2 != nil || start < 0 || end < start {
			return ByteRange{}, false, nil
		}
		if start >= size {
			return ByteRange{}, true, ErrRangeNotSatisfiable
		}
		if end >= size {
			end = size - 1
		}
		return ByteRange{Start: start, End: end}, true, nil

	default:
		return ByteRange{}, false, nil
	}
}

// ContentRangeHeader formats the Content-Range header value for a satisfied
// range response.
func ContentRangeHeader(rng ByteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size)
}

// UnsatisfiableContentRangeHeader formats the Content-Range header value for
// a 416 response.
func UnsatisfiableContentRangeHeader(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

package logx

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Limits bounds the sanitizer output: string length, recursion depth and
// per-container item count.
type Limits struct {
	MaxString int
	MaxDepth  int
	MaxItems  int
}

// DefaultLimits matches the logging contract defaults.
var DefaultLimits = Limits{
	MaxString: 512,
	MaxDepth:  6,
	MaxItems:  50,
}

var (
	sensitiveKeyRe = regexp.MustCompile(`(?i)secret|token|password|authorization|auth|cipher|signature|api[-_]?key|bearer`)
	phoneKeyRe     = regexp.MustCompile(`(?i)phone|msisdn|wa[-_]?id|whatsapp`)
	phoneValueRe   = regexp.MustCompile(`^\+?[\d\s().-]+$`)
	digitRe        = regexp.MustCompile(`\d`)
	// Phone-like digit runs inside free text (8-15 digits with optional
	// separators), used by Preview.
	phoneRunRe = regexp.MustCompile(`\+?\d(?:[\s().-]?\d){7,14}`)
)

// Sanitize returns a copy of v safe for structured logging: sensitive keys
// are replaced with [REDACTED], phone-like values are masked to the last
// four digits, long strings are truncated and containers are bounded.
func Sanitize(v any) any {
	return SanitizeWith(v, DefaultLimits)
}

// SanitizeWith is Sanitize with explicit limits.
func SanitizeWith(v any, lim Limits) any {
	return sanitizeValue(v, "", 0, lim, map[uintptr]bool{})
}

func sanitizeValue(v any, key string, depth int, lim Limits, seen map[uintptr]bool) any {
	if v == nil {
		return nil
	}
	if key != "" && sensitiveKeyRe.MatchString(key) {
		return "[REDACTED]"
	}

	switch val := v.(type) {
	case string:
		return sanitizeString(val, key, lim)
	case []byte:
		return sanitizeString(string(val), key, lim)
	case bool, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case fmt.Stringer:
		return sanitizeString(val.String(), key, lim)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if depth >= lim.MaxDepth {
			return "[depth limit]"
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return "[Circular]"
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, rv.Len())
		n := 0
		for _, mk := range rv.MapKeys() {
			if n >= lim.MaxItems {
				out["_more"] = fmt.Sprintf("[%d items omitted]", rv.Len()-n)
				break
			}
			ks := fmt.Sprintf("%v", mk.Interface())
			out[ks] = sanitizeValue(rv.MapIndex(mk).Interface(), ks, depth+1, lim, seen)
			n++
		}
		return out
	case reflect.Slice, reflect.Array:
		if depth >= lim.MaxDepth {
			return "[depth limit]"
		}
		if rv.Kind() == reflect.Slice {
			ptr := rv.Pointer()
			if seen[ptr] {
				return "[Circular]"
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		n := rv.Len()
		if n > lim.MaxItems {
			n = lim.MaxItems
		}
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, sanitizeValue(rv.Index(i).Interface(), key, depth+1, lim, seen))
		}
		if rv.Len() > n {
			out = append(out, fmt.Sprintf("[%d items omitted]", rv.Len()-n))
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem().Interface(), key, depth, lim, seen)
	default:
		return sanitizeString(fmt.Sprintf("%v", v), key, lim)
	}
}

func sanitizeString(s, key string, lim Limits) string {
	if masked, ok := maskPhone(s, key); ok {
		return masked
	}
	return truncate(s, lim.MaxString)
}

// maskPhone masks s to ***<last-4> when it looks like a phone number,
// either by key name or by value shape (8-15 digits).
func maskPhone(s, key string) (string, bool) {
	digits := len(digitRe.FindAllString(s, -1))
	shape := phoneValueRe.MatchString(strings.TrimSpace(s)) && digits >= 8 && digits <= 15
	byKey := key != "" && phoneKeyRe.MatchString(key) && digits >= 4
	if !shape && !byKey {
		return "", false
	}
	all := digitRe.FindAllString(s, -1)
	last4 := strings.Join(all, "")
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return "***" + last4, true
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("[truncated:%d]", len(s)-max)
}

// Preview produces a bounded, masked single-line preview of a raw payload
// for verbose logging. Phone-like digit runs are masked before truncation.
func Preview(raw string, maxChars int) string {
	masked := phoneRunRe.ReplaceAllStringFunc(raw, func(m string) string {
		digits := strings.Join(digitRe.FindAllString(m, -1), "")
		if len(digits) > 4 {
			digits = digits[len(digits)-4:]
		}
		return "***" + digits
	})
	return truncate(masked, maxChars)
}

package checks

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/changeling/internal/docstore"
)

var (
	ssnPattern = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	panPattern = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// writeMethods put values into documents. Filters of updates count too:
// a raw identifier in a filter is still committed to the changelog.
var writeMethods = []string{"insertOne", "insertMany", "updateOne", "updateMany"}

// writtenScalars calls fn with the text of every scalar argument of the
// forward write statements, and the statement it belongs to. Bodies of
// other kinds are split on semicolons and their INSERT and UPDATE
// statements are passed whole.
func writtenScalars(s *subject, fn func(target, text string)) {
	if !docstore.SupportsKind(s.cs.Forward.Kind) {
		for _, stmt := range strings.Split(s.cs.Forward.Body, ";") {
			fields := strings.Fields(stmt)
			if len(fields) == 0 {
				continue
			}
			if verb := strings.ToUpper(fields[0]); verb == "INSERT" || verb == "UPDATE" {
				fn(verb, stmt)
			}
		}
		return
	}
	for _, st := range s.forward {
		if !slices.Contains(writeMethods, st.Method) {
			continue
		}
		for _, arg := range st.Args {
			walkScalars(arg, func(text string) { fn(st.Target(), text) })
		}
	}
}

func walkScalars(v any, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case int:
		fn(strconv.Itoa(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e19 {
			fn(strconv.FormatFloat(t, 'f', -1, 64))
		}
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(t)) {
			walkScalars(t[k], fn)
		}
	case []any:
		for _, x := range t {
			walkScalars(x, fn)
		}
	}
}

func checkSSN(s *subject, _ Config) []string {
	var out []string
	writtenScalars(s, func(target, text string) {
		for _, m := range ssnPattern.FindAllString(text, -1) {
			out = append(out, fmt.Sprintf("%s writes a raw SSN (***-**-%s)", target, m[len(m)-4:]))
		}
	})
	return out
}

func checkPAN(s *subject, _ Config) []string {
	var out []string
	writtenScalars(s, func(target, text string) {
		for _, m := range panPattern.FindAllString(text, -1) {
			digits := strings.Map(func(r rune) rune {
				if r >= '0' && r <= '9' {
					return r
				}
				return -1
			}, m)
			if len(digits) < 13 || len(digits) > 19 || !luhn(digits) {
				continue
			}
			out = append(out, fmt.Sprintf("%s writes a raw card number ending %s", target, digits[len(digits)-4:]))
		}
	})
	return out
}

// luhn reports whether digits carries a valid Luhn check digit.
func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

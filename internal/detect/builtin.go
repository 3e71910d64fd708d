package detect

import "unicode"

// Built-in patterns, in detection order. French administrative formats
// (INSEE number, FR phone numbers, street types) sit next to generic ones.
var builtinPatterns = []Pattern{
	{Name: "EMAIL", Label: LabelEmail, Priority: 1, Replacement: "[EMAIL]",
		Expr: `[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`},
	{Name: "IBAN", Label: LabelIBAN, Priority: 1, Replacement: "[IBAN]",
		Expr: `\b[a-z]{2}\d{2}(?:[ ]?[a-z0-9]{4}){3,7}(?:[ ]?[a-z0-9]{1,3})?\b`},
	{Name: "INSEE", Label: LabelSSN, Priority: 1, Replacement: "[SSN]",
		Expr: `\b[12]\s*\d{2}\s*[0-1]\d\s*(?:\d{2}|2a|2b)\s*\d{3}\s*\d{3}(?:\s*\d{2})?\b`},
	{Name: "CARD", Label: LabelCard, Priority: 2, Replacement: "[CARD]",
		Expr: `\b(?:\d[ -]?){12,18}\d\b`, validate: luhnValid},
	{Name: "PHONE_FR", Label: LabelPhone, Priority: 2, Replacement: "[PHONE]",
		Expr: `(?:(?:\+|00)33\s*(?:\(0\)\s*)?|\b0)[1-9](?:[\s.-]*\d{2}){4}\b`},
	{Name: "PHONE", Label: LabelPhone, Priority: 2, Replacement: "[PHONE]",
		Expr: `\+?\d[\d\s\-()]{7,}\d`, validate: phoneDigits},
	{Name: "ADDRESS", Label: LabelAddress, Priority: 2, Replacement: "[ADDRESS]",
		Expr: `\b\d{1,4}(?:\s*(?:bis|ter))?,?\s+(?:rue|avenue|av\.|boulevard|bd|impasse|chemin|allée|place|quai|route|street|st\.|road|lane|drive)\s+[a-zà-öø-ÿ'\-]+(?:[ ][a-zà-öø-ÿ'\-]+){0,4}`},
	{Name: "DATE", Label: LabelDate, Priority: 3, Replacement: "[DATE]",
		Expr: `\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b|\b\d{4}-\d{1,2}-\d{1,2}\b`},
	{Name: "AGE", Label: LabelAge, Priority: 3, Replacement: "[AGE]",
		Expr: `\b\d{1,3}\s*(?:ans|an|years?\s+old)\b`},
	{Name: "POSTAL_CODE", Label: LabelPostalCode, Priority: 4, Replacement: "[POSTAL_CODE]",
		Expr: `\b\d{5}\b`},
}

// BuiltinPatterns returns copies of the built-in patterns.
func BuiltinPatterns() []Pattern {
	return append([]Pattern(nil), builtinPatterns...)
}

// DefaultLibrary compiles the built-in patterns.
func DefaultLibrary() *Library {
	l, err := NewLibrary(builtinPatterns...)
	if err != nil {
		panic("detect: built-in pattern does not compile: " + err.Error())
	}
	return l
}

// IsBuiltin reports whether name is a built-in pattern.
func IsBuiltin(name string) bool {
	for _, p := range builtinPatterns {
		if p.Name == name {
			return true
		}
	}
	return false
}

// BuiltinNames lists the built-in pattern names in detection order.
func BuiltinNames() []string {
	names := make([]string, len(builtinPatterns))
	for i, p := range builtinPatterns {
		names[i] = p.Name
	}
	return names
}

// luhnValid checks the card-number checksum over the digits of s.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
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

// phoneDigits keeps hits with a plausible phone digit count, which rules
// out ISO dates and short reference numbers.
func phoneDigits(s string) bool {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n >= 9 && n <= 15
}

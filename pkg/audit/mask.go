package audit

import "strings"

// MaskLiteral replaces the value of every sensitive metadata key
const MaskLiteral = "[REDACTED]"

var sensitiveTerms = []string{"password", "token", "secret", "credit_card", "ssn"}

// IsSensitiveKey reports whether a metadata key must be masked. Matching is
// by case-insensitive substring, so "apiToken" and "user_password_hash" match.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, term := range sensitiveTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Mask returns a copy of v with the value of every sensitive key, at any
// depth, replaced by MaskLiteral. Arrays are walked element by element.
// Mask(Mask(v)) equals Mask(v).
func Mask(v Value) Value {
	switch v.kind {
	case KindObject:
		obj := make(map[string]Value, len(v.obj))
		for k, field := range v.obj {
			if IsSensitiveKey(k) {
				obj[k] = String(MaskLiteral)
				continue
			}
			obj[k] = Mask(field)
		}
		return Value{kind: KindObject, obj: obj}
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = Mask(item)
		}
		return Value{kind: KindArray, arr: items}
	}
	return v
}

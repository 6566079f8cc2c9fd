package entity

import (
	"fmt"
	"strings"
)

// windowsReservedNames are device names that the original Cargo index
// convention forbids regardless of case, since the index is also laid
// out on Windows filesystems.
var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
}

// Normalize returns the canonical lookup form of a crate name: lowercase
// with both '_' and '-' collapsed to '='. Two distinct spellings that
// collide under this mapping are considered the same crate.
func Normalize(name string) string {
	lower := strings.ToLower(name)

	var b strings.Builder

	b.Grow(len(lower))

	for _, r := range lower {
		if r == '_' || r == '-' {
			b.WriteRune('=')
		} else {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// Validate checks a crate name against the registry's naming grammar:
// length at most 65 ASCII characters, first character ASCII-alphabetic,
// every character in [A-Za-z0-9_-], and not a reserved Windows device
// name (case-insensitive).
func Validate(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("crate name not defined")
	}

	if len(name) > 65 {
		return fmt.Errorf("invalid crate name %q: longer than 65 characters", name)
	}

	first := name[0]
	if !isASCIIAlpha(first) {
		return fmt.Errorf("invalid crate name %q: must start with an ASCII letter", name)
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(isASCIIAlpha(c) || isASCIIDigit(c) || c == '_' || c == '-') {
			return fmt.Errorf("invalid crate name %q: contains %q", name, c)
		}
	}

	if windowsReservedNames[strings.ToLower(name)] {
		return fmt.Errorf("invalid crate name %q: reserved device name", name)
	}

	return nil
}

func isASCIIAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isASCIIDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// PackageDirectory returns the Cargo index directory convention's
// relative path for a (lowercase) crate name:
//
//	len 1 -> "1"
//	len 2 -> "2"
//	len 3 -> "3/<c1>"
//	len >= 4 -> "<c1c2>/<c3c4>"
func PackageDirectory(name string) string {
	lower := strings.ToLower(name)

	switch len(lower) {
	case 0:
		return ""
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return fmt.Sprintf("3/%c", lower[0])
	default:
		return fmt.Sprintf("%s/%s", lower[0:2], lower[2:4])
	}
}

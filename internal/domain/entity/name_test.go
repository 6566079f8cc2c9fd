package entity

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"foo_bar": "foo=bar",
		"foo-bar": "foo=bar",
		"FOO-BAR": "foo=bar",
		"alpha":   "alpha",
	}

	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	names := []string{"foo_bar", "foo-bar", "Alpha", "a_b-c"}

	for _, n := range names {
		once := Normalize(n)
		twice := Normalize(once)

		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q vs %q", n, once, twice)
		}

		withDashes := Normalize(replaceUnderscoreWithDash(n))
		if once != withDashes {
			t.Errorf("Normalize(%q) != Normalize(dash form): %q vs %q", n, once, withDashes)
		}
	}
}

func replaceUnderscoreWithDash(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c == '_' {
			out[i] = '-'
		}
	}

	return string(out)
}

func TestValidate(t *testing.T) {
	valid := []string{"alpha", "a", "ab", "a1", "a_b-c", "ab1cd"}
	for _, n := range valid {
		if err := Validate(n); err != nil {
			t.Errorf("Validate(%q) unexpected error: %v", n, err)
		}
	}

	tooLong := "a"
	for len(tooLong) < 66 {
		tooLong += "a"
	}

	invalid := []string{
		"",
		"1abc",
		"con",
		"CON",
		"com1",
		"has space",
		"héllo",
		tooLong,
	}

	for _, n := range invalid {
		if err := Validate(n); err == nil {
			t.Errorf("Validate(%q) expected error, got nil", n)
		}
	}
}

func TestPackageDirectory(t *testing.T) {
	cases := map[string]string{
		"a":    "1",
		"ab":   "2",
		"abc":  "3/a",
		"abcd": "ab/cd",
	}

	for in, want := range cases {
		if got := PackageDirectory(in); got != want {
			t.Errorf("PackageDirectory(%q) = %q, want %q", in, got, want)
		}
	}
}

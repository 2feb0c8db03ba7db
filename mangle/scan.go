package mangle

import "bytes"

// IndexFold returns the index of the first ASCII case-insensitive match of
// sep in s, or -1. Bytes outside A-Z/a-z compare exactly.
func IndexFold(s, sep []byte) int {
	n := len(sep)
	switch {
	case n == 0:
		return 0
	case n > len(s):
		return -1
	}

	c0 := sep[0]
	folds := lower(c0) != upper(c0)
	last := len(s) - n
	for i := 0; i <= last; i++ {
		if !folds {
			j := bytes.IndexByte(s[i:last+1], c0)
			if j < 0 {
				return -1
			}
			i += j
		} else if lower(s[i]) != lower(c0) {
			continue
		}
		if equalFold(s[i+1:i+n], sep[1:]) {
			return i
		}
	}
	return -1
}

func equalFold(a, b []byte) bool {
	for i := range a {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func upper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

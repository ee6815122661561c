package snkv

// globMatch matches key against pattern byte by byte, with '*' for any run
// of bytes and '?' for exactly one.
func globMatch(pattern string, key []byte) bool {
	var pi, ki int
	star, mark := -1, 0
	for ki < len(key) {
		if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == key[ki]) {
			pi++
			ki++
			continue
		}
		if pi < len(pattern) && pattern[pi] == '*' {
			star = pi
			mark = ki
			pi++
			continue
		}
		if star != -1 {
			pi = star + 1
			mark++
			ki = mark
			continue
		}
		return false
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

package match

// Unified social credit code validation (GB 32100-2015). The code is 18
// characters drawn from a 31-symbol alphabet (no I, O, S, V, Z); the last
// character is a weighted mod-31 check digit over the first 17.

const usccAlphabet = "0123456789ABCDEFGHJKLMNPQRTUWXY"

var usccWeights = [17]int{1, 3, 9, 27, 19, 26, 16, 17, 20, 29, 25, 13, 8, 24, 10, 30, 28}

var usccIndex = func() map[byte]int {
	m := make(map[byte]int, len(usccAlphabet))
	for i := 0; i < len(usccAlphabet); i++ {
		m[usccAlphabet[i]] = i
	}
	return m
}()

// ValidCode reports whether code (already normalized) is a structurally
// valid checksum-bearing registration code.
func ValidCode(code string) bool {
	if len(code) != 18 {
		return false
	}
	sum := 0
	for i := 0; i < 17; i++ {
		v, ok := usccIndex[code[i]]
		if !ok {
			return false
		}
		sum += v * usccWeights[i]
	}
	check, ok := usccIndex[code[17]]
	if !ok {
		return false
	}
	return (sum+check)%31 == 0
}

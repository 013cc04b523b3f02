package phobos

import "math"

// logBase returns log_base(x), used by calculateLevel to place a newly
// merged table at the level its total entry count warrants.
func logBase(x, base float64) int {
	if x <= 1 {
		return 0
	}
	return int(math.Log(x) / math.Log(base))
}

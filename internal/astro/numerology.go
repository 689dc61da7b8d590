package astro

// IsMaster reports whether n is a master number (11, 22 or 33).
func IsMaster(n int) bool {
	return n == 11 || n == 22 || n == 33
}

// Reduce sums digits and repeatedly replaces the sum with the sum of its own
// decimal digits until it is a single digit or a master number. Master numbers
// are checked on every iteration, including the raw sum.
func Reduce(digits []int) int {
	n := 0
	for _, d := range digits {
		n += d
	}
	return ReduceNumber(n)
}

// ReduceNumber applies the reduction to an already-summed value.
func ReduceNumber(n int) int {
	for n > 9 && !IsMaster(n) {
		n = digitSum(n)
	}
	return n
}

// Numerology returns the reduced number of d's DD-MM-YYYY digits.
func Numerology(d Date) int {
	return Reduce(d.Digits())
}

func digitSum(n int) int {
	sum := 0
	for n > 0 {
		sum += n % 10
		n /= 10
	}
	return sum
}

package builtin

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
)

const (
	maxFactorial = 5000
	maxFibonacci = 5000

	// above this, trial division gives way to Baillie-PSW, which is exact
	// for every 64-bit input
	trialDivisionLimit = 1 << 32
)

var errNoNumbers = errors.New("No numbers provided")

func init() {
	register("prime_checker", primeChecker)
	register("fibonacci_generator", fibonacciGenerator)
	register("factorial_calculator", factorialCalculator)
	register("gcd_calculator", gcdCalculator)
	register("average_calculator", averageCalculator)
	register("median_calculator", medianCalculator)
}

func primeChecker(p Payload) (map[string]any, error) {
	n, err := p.Int("number", 2)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "number": n, "is_prime": isPrime(n)}, nil
}

func isPrime(n int64) bool {
	switch {
	case n < 2:
		return false
	case n == 2:
		return true
	case n%2 == 0:
		return false
	case n >= trialDivisionLimit:
		return big.NewInt(n).ProbablyPrime(0)
	}
	limit := int64(math.Sqrt(float64(n)))
	for i := int64(3); i <= limit; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// bigNumber renders a big.Int as an exact JSON number.
func bigNumber(v *big.Int) json.Number {
	return json.Number(v.String())
}

func fibonacciGenerator(p Payload) (map[string]any, error) {
	n, err := p.Int("count", 10)
	if err != nil {
		return nil, err
	}
	if n > maxFibonacci {
		return nil, fmt.Errorf("count must be at most %d", maxFibonacci)
	}
	seq := []json.Number{}
	a, b := big.NewInt(0), big.NewInt(1)
	for i := int64(0); i < n; i++ {
		seq = append(seq, bigNumber(a))
		a.Add(a, b)
		a, b = b, a
	}
	return map[string]any{"success": true, "count": n, "sequence": seq}, nil
}

func factorialCalculator(p Payload) (map[string]any, error) {
	n, err := p.Int("number", 5)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("Factorial not defined for negative numbers")
	}
	if n > maxFactorial {
		return nil, fmt.Errorf("number must be at most %d", maxFactorial)
	}
	f := big.NewInt(1)
	if n > 1 {
		f.MulRange(1, n)
	}
	return map[string]any{"success": true, "number": n, "factorial": bigNumber(f)}, nil
}

func gcdCalculator(p Payload) (map[string]any, error) {
	a, err := p.Int("a", 12)
	if err != nil {
		return nil, err
	}
	b, err := p.Int("b", 18)
	if err != nil {
		return nil, err
	}
	g := new(big.Int).GCD(nil, nil, new(big.Int).Abs(big.NewInt(a)), new(big.Int).Abs(big.NewInt(b)))
	return map[string]any{"success": true, "a": a, "b": b, "gcd": bigNumber(g)}, nil
}

func averageCalculator(p Payload) (map[string]any, error) {
	nums, err := p.Floats("numbers")
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, errNoNumbers
	}
	var sum float64
	for _, v := range nums {
		sum += v
	}
	return map[string]any{
		"success": true,
		"count":   len(nums),
		"sum":     sum,
		"average": sum / float64(len(nums)),
	}, nil
}

func medianCalculator(p Payload) (map[string]any, error) {
	nums, err := p.Floats("numbers")
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, errNoNumbers
	}
	sort.Float64s(nums)
	n := len(nums)
	median := nums[n/2]
	if n%2 == 0 {
		median = (nums[n/2-1] + nums[n/2]) / 2
	}
	return map[string]any{"success": true, "count": n, "median": median}, nil
}

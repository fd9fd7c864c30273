package codec

import "fmt"

// Validator is implemented by constrained values. Validate runs right after the value has been
// decoded; a non-nil result fails the decode with ErrConstraint. Encoding never validates.
type Validator interface {
	Validate() error
}

// Rule is a named predicate over T.
type Rule[T any] struct {
	Name  string
	Check func(T) bool
}

// Satisfies evaluates every rule against v and reports the first one that fails.
func Satisfies[T any](v T, rules ...Rule[T]) error {
	for _, rule := range rules {
		if !rule.Check(v) {
			return fmt.Errorf("%s (got %v)", rule.Name, v)
		}
	}
	return nil
}

func MinSize(n int) Rule[int] {
	return Rule[int]{Name: fmt.Sprintf("size must be >= %d", n), Check: func(v int) bool { return v >= n }}
}

func MaxSize(n int) Rule[int] {
	return Rule[int]{Name: fmt.Sprintf("size must be <= %d", n), Check: func(v int) bool { return v <= n }}
}

func ExactSize(n int) Rule[int] {
	return Rule[int]{Name: fmt.Sprintf("size must be == %d", n), Check: func(v int) bool { return v == n }}
}

func SizeRange(min, max int) Rule[int] {
	return Rule[int]{
		Name:  fmt.Sprintf("size must be within [%d, %d]", min, max),
		Check: func(v int) bool { return v >= min && v <= max },
	}
}

package stdx

// Must0 panics if the provided error is not nil. It is intended for
// call sites where an error is not expected and should terminate the
// program if it occurs.
func Must0(err error) {
	if err != nil {
		panic(err)
	}
}

// Must1 returns v when err is nil and panics otherwise. It simplifies
// error handling in places where failure is a programming error rather
// than a runtime condition.
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

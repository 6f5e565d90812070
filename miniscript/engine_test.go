package miniscript

// fakeEngine scripts engine behavior for tests.
type fakeEngine struct {
	compileFn func(string) (Compiled, error)
	satisfyFn func(string, []string) ([]Solution, error)
}

func (f *fakeEngine) Compile(ms string) (Compiled, error) {
	return f.compileFn(ms)
}

func (f *fakeEngine) Satisfy(ms string, knowns []string) ([]Solution, error) {
	return f.satisfyFn(ms, knowns)
}

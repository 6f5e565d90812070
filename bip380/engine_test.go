package bip380

import "descriptors.dev/miniscript"

// fakeEngine scripts miniscript engine behavior for tests.
type fakeEngine struct {
	compileFn func(string) (miniscript.Compiled, error)
	satisfyFn func(string, []string) ([]miniscript.Solution, error)
}

func (f *fakeEngine) Compile(ms string) (miniscript.Compiled, error) {
	return f.compileFn(ms)
}

func (f *fakeEngine) Satisfy(ms string, knowns []string) ([]miniscript.Solution, error) {
	return f.satisfyFn(ms, knowns)
}

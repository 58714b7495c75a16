package adapter

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"porchlight/internal/cell"
)

func accumulate(x int, z int) int {
	y := x + z
	return y
}

func advance(x, v float64, dt float64) (float64, float64) {
	x = x + v*dt
	return x, v
}

func branchy(n int) int {
	if n > 0 {
		pos := n
		return pos
	}
	neg := -n
	return neg
}

func swing(x, v int) (int, int) {
	if v < 0 {
		low := x - 1
		return low, v
	}
	high := x + 1
	return high, v
}

func blankResult(n int) (_ int, err error) {
	return
}

type body struct{ k float64 }

func (b *body) Step(x, v float64) (float64, float64) {
	v = v - b.k*x
	x = x + v
	return x, v
}

func (b body) Energy(x, v float64) float64 {
	e := 0.5 * (v*v + b.k*x*x)
	return e
}

func computed(a, b int) int {
	return a + b
}

var errBoom = errors.New("boom")

func failing(a int) (int, error) {
	b := a * 2
	if a < 0 {
		return 0, errBoom
	}
	return b, nil
}

func withContext(ctx context.Context, seed int) int {
	grown := seed + 1
	if ctx.Err() != nil {
		return grown
	}
	return grown
}

func splitSum(sum int) (x, y int) {
	x = sum * 4 / 9
	y = sum - x
	return
}

func total(base int, extra ...int) int {
	sum := base
	for _, e := range extra {
		sum += e
	}
	return sum
}

func scale(a, b int) int {
	c := a * b
	return c
}

func inputNames(inv Invoker) []string {
	var names []string
	for _, in := range inv.Inputs() {
		names = append(names, in.Name)
	}
	return names
}

func TestNewDiscoversNames(t *testing.T) {
	a, err := New(accumulate, WithDefault("z", 0))
	require.NoError(t, err)

	assert.Equal(t, "accumulate", a.Name())
	assert.Equal(t, []string{"x", "z"}, inputNames(a))
	assert.Equal(t, [][]string{{"y"}}, a.Outputs())

	inputs := a.Inputs()
	assert.True(t, inputs[0].Required)
	assert.True(t, cell.IsAbsent(inputs[0].Default))
	assert.False(t, inputs[1].Required)
	assert.Equal(t, 0, inputs[1].Default)
	assert.Empty(t, a.Warnings())
}

func TestCallUsesDefaults(t *testing.T) {
	a := MustNew(accumulate, WithDefault("z", 0))

	out, err := a.Call(context.Background(), map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": 1}, out)

	out, err = a.Call(context.Background(), map[string]any{"x": 1, "z": 4})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": 5}, out)
}

func TestCallAbsentUsesDefault(t *testing.T) {
	a := MustNew(accumulate, WithDefault("z", 2))

	out, err := a.Call(context.Background(), map[string]any{"x": 1, "z": cell.Absent})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": 3}, out)
}

func TestCallMissingArgument(t *testing.T) {
	a := MustNew(accumulate)

	_, err := a.Call(context.Background(), map[string]any{"x": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArgument)
	assert.True(t, IsMissingArgument(err))
	assert.Contains(t, err.Error(), "z")
	assert.Contains(t, err.Error(), "accumulate")
}

func TestMultipleOutputs(t *testing.T) {
	a := MustNew(advance)
	assert.Equal(t, []string{"x", "v", "dt"}, inputNames(a))
	assert.Equal(t, [][]string{{"x", "v"}}, a.Outputs())

	out, err := a.Call(context.Background(), map[string]any{"x": 1.0, "v": 2.0, "dt": 0.5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 2.0, "v": 2.0}, out)
}

func TestMismatchedReturnPointsWarn(t *testing.T) {
	a, err := New(branchy)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"pos"}, {"neg"}}, a.Outputs())
	require.Len(t, a.Warnings(), 1)
	assert.Contains(t, a.Warnings()[0], "different outputs")

	// Without an execution tracker no return point can be told apart, so
	// the disagreeing position is not written under either name.
	out, err := a.Call(context.Background(), map[string]any{"n": -3})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMismatchedReturnPointsKeepAgreedPositions(t *testing.T) {
	a := MustNew(swing)
	assert.Equal(t, [][]string{{"low", "v"}, {"high", "v"}}, a.Outputs())

	out, err := a.Call(context.Background(), map[string]any{"x": 5, "v": -2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": -2}, out)
}

func TestBlankNamedResultIsUntracked(t *testing.T) {
	a := MustNew(blankResult)
	assert.Empty(t, a.Outputs())

	out, err := a.Call(context.Background(), map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMethodValue(t *testing.T) {
	b := &body{k: 2}
	a, err := New(b.Step)
	require.NoError(t, err)

	assert.Equal(t, "Step", a.Name())
	assert.Equal(t, []string{"x", "v"}, inputNames(a))
	assert.Equal(t, [][]string{{"x", "v"}}, a.Outputs())
	assert.Empty(t, a.Warnings())

	out, err := a.Call(context.Background(), map[string]any{"x": 1.0, "v": 0.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": -1.0, "v": -2.0}, out)

	energy, err := New(body{k: 2}.Energy)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"e"}}, energy.Outputs())
}

func TestUntrackedReturnProducesNothing(t *testing.T) {
	a := MustNew(computed)
	assert.Empty(t, a.Outputs())
	require.Len(t, a.ReturnPoints(), 1)
	assert.False(t, a.ReturnPoints()[0].Tracked())

	out, err := a.Call(context.Background(), map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestErrorPassesThroughUnwrapped(t *testing.T) {
	a := MustNew(failing)
	assert.Equal(t, [][]string{{"b"}}, a.Outputs())

	_, err := a.Call(context.Background(), map[string]any{"a": -1})
	require.Error(t, err)
	assert.Equal(t, errBoom, err)

	out, err := a.Call(context.Background(), map[string]any{"a": 4})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": 8}, out)
}

func TestContextParameterIsNotAnInput(t *testing.T) {
	a := MustNew(withContext)
	assert.Equal(t, []string{"seed"}, inputNames(a))

	out, err := a.Call(context.Background(), map[string]any{"seed": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"grown": 2}, out)
}

func TestNamedResultsBareReturn(t *testing.T) {
	a := MustNew(splitSum)
	assert.Equal(t, [][]string{{"x", "y"}}, a.Outputs())

	out, err := a.Call(context.Background(), map[string]any{"sum": 18})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 8, "y": 10}, out)
}

func TestVariadicIsOptional(t *testing.T) {
	a := MustNew(total)
	inputs := a.Inputs()
	require.Len(t, inputs, 2)
	assert.True(t, inputs[1].Variadic)
	assert.False(t, inputs[1].Required)
	assert.Equal(t, []string{"base"}, RequiredInputs(a))

	out, err := a.Call(context.Background(), map[string]any{"base": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": 1}, out)

	out, err = a.Call(context.Background(), map[string]any{"base": 1, "extra": []int{2, 3}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": 6}, out)
}

func TestClosure(t *testing.T) {
	factor := 3.0
	product := func(p, q float64) float64 {
		r := p * q * factor
		return r
	}

	a, err := New(product)
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "q"}, inputNames(a))
	assert.Equal(t, [][]string{{"r"}}, a.Outputs())
}

func TestMappingRenames(t *testing.T) {
	a, err := New(scale,
		WithMapping(map[string]string{"x": "a", "y": "b"}),
		WithDefault("b", 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y"}, inputNames(a))
	assert.Equal(t, "a", a.Inputs()[0].Local)
	assert.Equal(t, [][]string{{"c"}}, a.Outputs())
	assert.Equal(t, map[string]string{"x": "a", "y": "b"}, a.Mapping())

	out, err := a.Call(context.Background(), map[string]any{"x": 2, "y": 5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"c": 10}, out)

	// The local name is no longer visible to the pool.
	out, err = a.Call(context.Background(), map[string]any{"x": 2, "a": 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"c": 2}, out)
}

func TestMappingRenamesOutputs(t *testing.T) {
	a := MustNew(scale, WithMapping(map[string]string{"area": "c"}))
	assert.Equal(t, [][]string{{"area"}}, a.Outputs())

	out, err := a.Call(context.Background(), map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"area": 6}, out)
}

func TestMappingSwap(t *testing.T) {
	a := MustNew(scale, WithMapping(map[string]string{"a": "b", "b": "a"}))
	assert.Equal(t, []string{"b", "a"}, inputNames(a))
}

func TestMappingValidation(t *testing.T) {
	tests := []struct {
		name    string
		mapping map[string]string
	}{
		{"unknown local", map[string]string{"x": "nope"}},
		{"invalid shared name", map[string]string{"1x": "a"}},
		{"blank shared name", map[string]string{"_": "a"}},
		{"local mapped twice", map[string]string{"x": "a", "y": "a"}},
		{"conflicts with unmapped local", map[string]string{"b": "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(scale, WithMapping(tt.mapping))
			assert.ErrorIs(t, err, ErrInvalidMapping)
		})
	}
}

func TestNumericCoercion(t *testing.T) {
	a := MustNew(advance)

	out, err := a.Call(context.Background(), map[string]any{"x": 1, "v": 2, "dt": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 3.0, "v": 2.0}, out)

	strict := MustNew(advance, WithTypeCheck(true))
	_, err = strict.Call(context.Background(), map[string]any{"x": 1, "v": 2.0, "dt": 1.0})
	assert.ErrorIs(t, err, ErrInvalidArgType)
}

func TestWrongTypeRejected(t *testing.T) {
	a := MustNew(accumulate)
	_, err := a.Call(context.Background(), map[string]any{"x": "one", "z": 1})
	assert.ErrorIs(t, err, ErrInvalidArgType)
}

func TestExplicitNames(t *testing.T) {
	a, err := New(computed, WithInputs("left", "right"), WithOutputs("sum"), WithName("adder"))
	require.NoError(t, err)

	assert.Equal(t, "adder", a.Name())
	assert.Equal(t, []string{"left", "right"}, inputNames(a))
	assert.Equal(t, [][]string{{"sum"}}, a.Outputs())

	out, err := a.Call(context.Background(), map[string]any{"left": 1, "right": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": 3}, out)
}

func TestExplicitNamesMustFit(t *testing.T) {
	_, err := New(computed, WithInputs("only"))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = New(computed, WithOutputs("a", "b"))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = New(computed, WithDefault("missing", 1))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestPositionalFallback(t *testing.T) {
	typ := reflect.TypeOf(func(int, int) int { return 0 })
	fn := reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(int(args[0].Int() - args[1].Int()))}
	}).Interface()

	a, err := New(fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"arg0", "arg1"}, inputNames(a))
	assert.Equal(t, [][]string{{"out0"}}, a.Outputs())
	require.Len(t, a.Warnings(), 1)
	assert.Contains(t, a.Warnings()[0], "positional names")

	out, err := a.Call(context.Background(), map[string]any{"arg0": 5, "arg1": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"out0": 3}, out)
}

func TestNotAFunction(t *testing.T) {
	_, err := New(42)
	assert.ErrorIs(t, err, ErrNotFunction)

	var nilFn func()
	_, err = New(nilFn)
	assert.ErrorIs(t, err, ErrNotFunction)
}

func TestReturnTracker(t *testing.T) {
	src, err := ParseFunc(`func pick(n int) int {
	if n > 0 {
		up := n
		return up
	}
	down := n
	return down
}`, "pick")
	require.NoError(t, err)

	point := 1
	pick := func(n int) int { return n }
	a, err := New(pick, WithSource(src), WithReturnTracker(func() int { return point }))
	require.NoError(t, err)

	out, err := a.Call(context.Background(), map[string]any{"n": -2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"down": -2}, out)

	point = 0
	out, err = a.Call(context.Background(), map[string]any{"n": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"up": 2}, out)
}

func TestVariablesHelper(t *testing.T) {
	a := MustNew(advance)
	if diff := cmp.Diff([]string{"x", "v", "dt"}, Variables(a)); diff != "" {
		t.Errorf("Variables() mismatch (-want +got):\n%s", diff)
	}
}

package adapter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"porchlight/internal/cell"
)

func TestDeclare(t *testing.T) {
	sig := Signature{
		Params: []Param{
			{Name: "mass", Type: reflect.TypeOf(0.0), Required: true},
			{Name: "g", Type: reflect.TypeOf(0.0), Default: 9.81},
		},
		Outputs: []string{"weight", "unused"},
	}
	d, err := Declare("weigh", sig, func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{
			"weight": args["mass"].(float64) * args["g"].(float64),
			"extra":  true,
		}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, "weigh", d.Name())
	assert.Equal(t, []string{"mass"}, RequiredInputs(d))
	assert.Equal(t, [][]string{{"weight", "unused"}}, d.Outputs())
	assert.True(t, cell.IsAbsent(d.Inputs()[0].Default))

	out, err := d.Call(context.Background(), map[string]any{"mass": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"weight": 19.62}, out)

	_, err = d.Call(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestDeclareMappingAndErrors(t *testing.T) {
	sig := Signature{
		Params:  []Param{{Name: "in", Required: true}},
		Outputs: []string{"out"},
	}
	errFail := errors.New("declared failure")
	d, err := Declare("relay", sig, func(_ context.Context, args map[string]any) (map[string]any, error) {
		if args["in"] == nil {
			return nil, errFail
		}
		return map[string]any{"out": fmt.Sprint(args["in"])}, nil
	}, WithMapping(map[string]string{"source": "in", "sink": "out"}))
	require.NoError(t, err)

	assert.Equal(t, "source", d.Inputs()[0].Name)
	out, err := d.Call(context.Background(), map[string]any{"source": 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sink": "7"}, out)

	_, err = d.Call(context.Background(), map[string]any{"source": nil})
	assert.Equal(t, errFail, err)
}

func TestDeclareRejectsBadSignature(t *testing.T) {
	noop := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }

	_, err := Declare("dup", Signature{Params: []Param{{Name: "a"}, {Name: "a"}}}, noop)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = Declare("bad", Signature{Outputs: []string{"not valid"}}, noop)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = Declare("nilfn", Signature{}, nil)
	assert.ErrorIs(t, err, ErrNotFunction)
}

func TestDynamicRegenerates(t *testing.T) {
	offset := 0
	d, err := NewDynamic("shift", func(context.Context) (Invoker, error) {
		k := offset
		offset++
		return New(func(x int) int {
			shifted := x + k
			return shifted
		}, WithName(fmt.Sprintf("shift%d", k)))
	})
	require.NoError(t, err)

	assert.Nil(t, d.Current())
	assert.Empty(t, d.Inputs())

	require.NoError(t, d.Refresh(context.Background()))
	assert.Equal(t, []string{"x"}, inputNames(d))
	assert.Equal(t, [][]string{{"shifted"}}, d.Outputs())

	// The refreshed generation is used by the next call.
	out, err := d.Call(context.Background(), map[string]any{"x": 10})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"shifted": 10}, out)
	assert.Equal(t, 1, d.Generations())

	// Without a refresh in between, Call regenerates.
	out, err = d.Call(context.Background(), map[string]any{"x": 10})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"shifted": 11}, out)
	assert.Equal(t, 2, d.Generations())
	assert.Equal(t, "shift1", d.Current().Name())
}

func TestDynamicGeneratorError(t *testing.T) {
	errGen := errors.New("no generation")
	d, err := NewDynamic("broken", func(context.Context) (Invoker, error) { return nil, errGen })
	require.NoError(t, err)

	_, err = d.Call(context.Background(), nil)
	assert.ErrorIs(t, err, errGen)

	_, err = NewDynamic("", nil)
	assert.Error(t, err)
}

func TestDeclareOptionalWithoutDefaultUsesZero(t *testing.T) {
	sig := Signature{
		Params: []Param{
			{Name: "count", Type: reflect.TypeOf(0)},
			{Name: "tags", Type: reflect.TypeOf([]string(nil))},
		},
		Outputs: []string{"next"},
	}
	d, err := Declare("bump", sig, func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"next": args["count"].(int) + 1}, nil
	})
	require.NoError(t, err)

	assert.Empty(t, RequiredInputs(d))
	assert.Equal(t, 0, d.Inputs()[0].Default)
	assert.Nil(t, d.Inputs()[1].Default)
	assert.Nil(t, sig.Params[0].Default, "the caller's signature is left alone")

	out, err := d.Call(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"next": 1}, out)
}

package remote

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/bundle"
	"github.com/vk/starbundle/internal/param"
	"github.com/zclconf/go-cty/cty"
)

type fakeConn struct {
	reply  any
	wait   bool
	emit   string
	event  string
	got    map[string]any
	closed bool
}

func (f *fakeConn) Request(ctx context.Context, emit, reply string, payload any) (any, error) {
	f.emit, f.event = emit, reply
	f.got, _ = payload.(map[string]any)
	if f.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.reply, nil
}

func (f *fakeConn) Close() { f.closed = true }

// remoteBundle is a single star with one lc dataset and a remote compute
// talking to conn.
func remoteBundle(t *testing.T, conn *fakeConn, values map[string]any) *bundle.Bundle {
	t.Helper()
	ctx := context.Background()
	reg := backend.NewRegistry()
	reg.RegisterCompute(&Backend{dial: func(ctx context.Context, cfg *config) (Conn, error) {
		return conn, nil
	}})
	b, err := bundle.DefaultStar(ctx, reg)
	require.NoError(t, err)
	_, err = b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{Values: map[string]any{"times": []float64{0, 1}}})
	require.NoError(t, err)
	_, err = b.AddCompute(ctx, Kind, bundle.ComputeOptions{Name: "worker", Values: values})
	require.NoError(t, err)
	return b
}

func TestOptions_AreValid(t *testing.T) {
	opts := (&Backend{}).Options()
	for _, p := range append(opts.Global, opts.PerDataset...) {
		assert.NoError(t, p.Validate(p.Value), p.Qualifier)
	}
}

func TestRun_RoundTrip(t *testing.T) {
	conn := &fakeConn{reply: map[string]any{
		"results": []any{
			map[string]any{
				"tags":  map[string]any{"qualifier": "times", "dataset": "lc01", "kind": "lc"},
				"unit":  "d",
				"value": []any{0.0, 1.0},
			},
			map[string]any{
				"tags":  map[string]any{"qualifier": "fluxes", "dataset": "lc01", "kind": "lc"},
				"type":  "float_array",
				"unit":  "W/m2",
				"value": []any{1.0, 0.75},
			},
		},
	}}
	b := remoteBundle(t, conn, map[string]any{"emit_event": "compute"})

	model, err := b.RunCompute(context.Background(), bundle.RunComputeOptions{Compute: "worker"})
	require.NoError(t, err)
	assert.True(t, conn.closed)
	assert.Equal(t, "compute", conn.emit)
	assert.Equal(t, "compute_result", conn.event)

	require.NotNil(t, conn.got)
	assert.Equal(t, "worker", conn.got["compute"])
	assert.Equal(t, []any{"lc01"}, conn.got["datasets"])
	system, ok := conn.got["system"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, system)

	fluxes, err := b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "fluxes", Model: model}})
	require.NoError(t, err)
	got, err := fluxes.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.75}, got)
	assert.Equal(t, "worker", fluxes.Compute)
	assert.Equal(t, "W/m2", fluxes.Unit)
}

func TestRun_WorkerError(t *testing.T) {
	conn := &fakeConn{reply: map[string]any{"error": "atmosphere table missing"}}
	b := remoteBundle(t, conn, nil)

	_, err := b.RunCompute(context.Background(), bundle.RunComputeOptions{Compute: "worker"})
	require.ErrorIs(t, err, ErrWorker)
	assert.Contains(t, err.Error(), "atmosphere table missing")
	assert.Empty(t, b.Models())
}

func TestRun_Timeout(t *testing.T) {
	conn := &fakeConn{wait: true}
	b := remoteBundle(t, conn, map[string]any{"timeout": "10ms"})

	_, err := b.RunCompute(context.Background(), bundle.RunComputeOptions{Compute: "worker"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 10ms waiting for event 'compute_result'")
	assert.True(t, conn.closed)
}

func TestRun_BadTimeout(t *testing.T) {
	b := remoteBundle(t, &fakeConn{}, map[string]any{"timeout": "soon"})
	_, err := b.RunCompute(context.Background(), bundle.RunComputeOptions{Compute: "worker"})
	assert.ErrorIs(t, err, param.ErrInvalidValue)
}

func TestRun_CancelledBeforeDial(t *testing.T) {
	dialed := false
	be := &Backend{dial: func(ctx context.Context, cfg *config) (Conn, error) {
		dialed = true
		return &fakeConn{}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := be.Run(ctx, &backend.ComputeRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, dialed)
}

func TestDialSocket_RejectsBadURL(t *testing.T) {
	_, err := dialSocket(context.Background(), &config{URL: "localhost:5555"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse URL")
}

func TestDecodeReply_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		reply   any
		wantErr string
	}{
		{"not an object", []any{1.0}, "expected an object"},
		{"no results", map[string]any{}, "no results list"},
		{"no qualifier", map[string]any{"results": []any{map[string]any{"tags": map[string]any{"dataset": "lc01"}}}}, "missing qualifier"},
		{"no dataset", map[string]any{"results": []any{map[string]any{"tags": map[string]any{"qualifier": "fluxes"}}}}, "no dataset tag"},
		{"bad type", map[string]any{"results": []any{map[string]any{
			"tags": map[string]any{"qualifier": "fluxes", "dataset": "lc01"},
			"type": "bool",
		}}}, "unsupported result type"},
		{"bad value", map[string]any{"results": []any{map[string]any{
			"tags":  map[string]any{"qualifier": "fluxes", "dataset": "lc01"},
			"value": "bright",
		}}}, "expected list of numbers"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeReply(tc.reply)
			require.ErrorIs(t, err, ErrWorker)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCtyInterface_Infinities(t *testing.T) {
	v := cty.TupleVal([]cty.Value{cty.NumberFloatVal(1.5), cty.PositiveInfinity, cty.NegativeInfinity})
	plain, err := ctyToInterface(v)
	require.NoError(t, err)
	assert.Equal(t, []any{1.5, "inf", "-inf"}, plain)

	back, err := interfaceToCty(plain)
	require.NoError(t, err)
	f, _ := back.Index(cty.NumberIntVal(1)).AsBigFloat().Float64()
	assert.True(t, math.IsInf(f, 1))
	assert.True(t, back.Index(cty.NumberIntVal(0)).RawEquals(cty.NumberFloatVal(1.5)))

	obj, err := ctyToInterface(cty.ObjectVal(map[string]cty.Value{"on": cty.True, "name": cty.StringVal("lc01")}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"on": true, "name": "lc01"}, obj)
}

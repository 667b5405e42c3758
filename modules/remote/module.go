// Package remote provides a compute backend that delegates the forward model
// to an external worker over socket.io. The worker receives a snapshot of
// the system and replies with model parameters.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// Kind is the compute kind this backend registers under.
const Kind = "remote"

// ErrWorker is returned when the worker reports a failure.
var ErrWorker = errors.New("remote worker failed")

// Module implements the backend.Module interface for this package.
type Module struct{}

// Register registers the compute backend.
func (m *Module) Register(r *backend.Registry) {
	r.RegisterCompute(&Backend{dial: dialSocket})
}

// Backend is the remote compute backend.
type Backend struct {
	dial dialer
}

func (b *Backend) Kind() string { return Kind }

// Options returns the compute options of a remote configuration.
func (b *Backend) Options() backend.Options {
	str := func(qualifier, value, description string) *param.Parameter {
		return param.MustNew(param.Tags{Qualifier: qualifier}, param.TypeString, value, description)
	}
	return backend.Options{
		Global: []*param.Parameter{
			str("url", "http://localhost:5555/socket.io/", "Address of the compute worker"),
			str("namespace", "/", "Socket.io namespace of the worker"),
			str("timeout", "60s", "How long to wait for the worker's reply"),
			str("emit_event", "run_compute", "Event carrying the compute request"),
			str("result_event", "compute_result", "Event the worker replies with"),
			param.MustNew(param.Tags{Qualifier: "insecure_skip_verify"}, param.TypeBool, false, "Skip TLS certificate verification"),
		},
		PerDataset: []*param.Parameter{
			param.MustNew(param.Tags{Qualifier: "enabled"}, param.TypeBool, true, "Whether to create synthetics in compute/solver run"),
		},
	}
}

// config is the decoded global options of a configuration.
type config struct {
	URL                string
	Namespace          string
	Timeout            time.Duration
	EmitEvent          string
	ResultEvent        string
	InsecureSkipVerify bool
}

func readConfig(options *paramstore.Set) (*config, error) {
	str := func(qualifier string) (string, error) {
		p, err := options.Get(paramstore.Query{Tags: param.Tags{Qualifier: qualifier}, IncludeHidden: true})
		if err != nil {
			return "", err
		}
		return p.StringValue()
	}
	cfg := &config{}
	var err error
	if cfg.URL, err = str("url"); err != nil {
		return nil, err
	}
	if cfg.Namespace, err = str("namespace"); err != nil {
		return nil, err
	}
	if cfg.EmitEvent, err = str("emit_event"); err != nil {
		return nil, err
	}
	if cfg.ResultEvent, err = str("result_event"); err != nil {
		return nil, err
	}
	timeout, err := str("timeout")
	if err != nil {
		return nil, err
	}
	if cfg.Timeout, err = time.ParseDuration(timeout); err != nil {
		return nil, fmt.Errorf("%w: timeout %q: %v", param.ErrInvalidValue, timeout, err)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", param.ErrInvalidValue, timeout)
	}
	p, err := options.Get(paramstore.Query{Tags: param.Tags{Qualifier: "insecure_skip_verify"}, IncludeHidden: true})
	if err != nil {
		return nil, err
	}
	if cfg.InsecureSkipVerify, err = p.Bool(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Run sends the system to the worker and waits for its models.
func (b *Backend) Run(ctx context.Context, req *backend.ComputeRequest) ([]*param.Parameter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := readConfig(req.Options)
	if err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx).With("backend", Kind, "compute", req.Compute, "url", cfg.URL)

	payload, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	conn, err := b.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	logger.Info("Sending compute request.", "datasets", req.Datasets, "parameters", req.System.Len())
	reply, err := conn.Request(opCtx, cfg.EmitEvent, cfg.ResultEvent, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out after %v waiting for event '%s'", cfg.Timeout, cfg.ResultEvent)
		}
		return nil, err
	}

	results, err := decodeReply(reply)
	if err != nil {
		return nil, err
	}
	logger.Info("Received compute results.", "parameters", len(results))
	return results, nil
}

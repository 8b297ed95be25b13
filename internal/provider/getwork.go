package provider

import (
	"context"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/jsonx"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/pkg/errors"
)

// Getwork fetches fixed-width headers with the getwork call
type Getwork struct {
	client *rpc.Client
	desc   *algo.Descriptor
	cfg    assembler.GetworkConfig
}

// NewGetwork creates a getwork provider
func NewGetwork(client *rpc.Client, desc *algo.Descriptor, cfg assembler.GetworkConfig) *Getwork {
	return &Getwork{client: client, desc: desc, cfg: cfg}
}

// Kind implements Provider
func (g *Getwork) Kind() Kind { return KindGetwork }

// Fetch implements Provider
func (g *Getwork) Fetch(ctx context.Context) (*Result, error) {
	reply, err := g.client.Call(ctx, "getwork", []any{})
	if err != nil {
		return nil, err
	}
	return g.decode(reply)
}

// LongPoll implements LongPoller
func (g *Getwork) LongPoll(ctx context.Context, endpoint, _ string) (*Result, error) {
	reply, err := g.client.LongPoll(ctx, endpoint, "getwork", []any{})
	if err != nil {
		return nil, err
	}
	return g.decode(reply)
}

func (g *Getwork) decode(reply *rpc.Reply) (*Result, error) {
	var res assembler.GetworkResult
	if err := jsonx.Unmarshal(reply.Result, &res); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "getwork", "invalid result")
	}
	if res.Data == "" || res.Target == "" {
		return nil, errors.New(errors.ErrorTypeDecode, "getwork", "missing data or target")
	}
	item, err := assembler.DecodeGetwork(&res, g.desc, g.cfg)
	if err != nil {
		return nil, err
	}
	return &Result{
		Kind:     KindGetwork,
		Item:     item,
		LongPoll: reply.LongPollPath,
		Stratum:  reply.Stratum,
	}, nil
}

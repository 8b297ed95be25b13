package provider

import (
	"context"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/pkg/errors"
)

var templateCapabilities = []string{"coinbasetxn", "coinbasevalue", "longpoll", "workid"}

// templateRequest builds the getblocktemplate parameter list
func templateRequest(longPollID string) []any {
	req := map[string]any{
		"capabilities": templateCapabilities,
		"rules":        []string{"segwit"},
	}
	if longPollID != "" {
		req["longpollid"] = longPollID
	}
	return []any{req}
}

// GBT builds work locally from getblocktemplate
type GBT struct {
	client *rpc.Client
	desc   *algo.Descriptor
	cfg    assembler.TemplateConfig
}

// NewGBT creates a template provider
func NewGBT(client *rpc.Client, desc *algo.Descriptor, cfg assembler.TemplateConfig) *GBT {
	return &GBT{client: client, desc: desc, cfg: cfg}
}

// Kind implements Provider
func (g *GBT) Kind() Kind { return KindGBT }

// Fetch implements Provider. A wrapped assembler.ErrUseGetwork asks the
// caller to downgrade.
func (g *GBT) Fetch(ctx context.Context) (*Result, error) {
	reply, err := g.client.Call(ctx, "getblocktemplate", templateRequest(""))
	if err != nil {
		if rpc.IsMethodNotFound(err) && g.cfg.GetworkFallback {
			return nil, errors.Wrap(assembler.ErrUseGetwork, errors.ErrorTypeProtocol, "gbt",
				"getblocktemplate not supported").WithRetryable(false)
		}
		return nil, err
	}
	return g.decode(reply)
}

// LongPoll implements LongPoller
func (g *GBT) LongPoll(ctx context.Context, endpoint, longPollID string) (*Result, error) {
	reply, err := g.client.LongPoll(ctx, endpoint, "getblocktemplate", templateRequest(longPollID))
	if err != nil {
		return nil, err
	}
	return g.decode(reply)
}

func (g *GBT) decode(reply *rpc.Reply) (*Result, error) {
	tpl, err := assembler.ParseTemplate(reply.Result)
	if err != nil {
		return nil, err
	}
	asm, err := assembler.Build(tpl, g.desc, g.cfg)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Kind:       KindGBT,
		Item:       asm.Item,
		LongPoll:   reply.LongPollPath,
		LongPollID: tpl.LongPollID,
		Stratum:    reply.Stratum,
		Skipped:    asm.Skipped,
	}
	if tpl.LongPollURI != "" {
		res.LongPoll = tpl.LongPollURI
	} else if res.LongPoll == "" && tpl.LongPollID != "" {
		// same endpoint, blocking on the id
		res.LongPoll = g.client.URL()
	}
	return res, nil
}

package provider

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/bardlex/gominer/internal/jsonx"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// NetProbe refreshes the network view from getmininginfo and the GBT
// height. A probe the daemon does not know is disabled for every pool.
type NetProbe struct {
	flags   *pool.Flags
	network *work.Network
	logger  *log.Logger
}

// NewNetProbe creates a probe writing into network
func NewNetProbe(flags *pool.Flags, network *work.Network, logger *log.Logger) *NetProbe {
	return &NetProbe{flags: flags, network: network, logger: logger.WithComponent("netprobe")}
}

// MiningInfo records network difficulty, hashrate and block count
func (p *NetProbe) MiningInfo(ctx context.Context, client *rpc.Client) error {
	if !p.flags.MiningInfo() {
		return nil
	}
	reply, err := client.Call(ctx, "getmininginfo", []any{})
	if err != nil {
		if rpc.IsMethodNotFound(err) {
			p.flags.DisableMiningInfo()
			p.logger.Info("getmininginfo not supported, probe disabled")
			return nil
		}
		return err
	}
	diff, rate, blocks, err := ParseMiningInfo(reply.Result)
	if err != nil {
		return err
	}
	p.network.SetMiningInfo(diff, rate, blocks)
	p.logger.Debug("mining info", "difficulty", diff, "net_hashrate", log.FormatHashrate(rate), "blocks", blocks)
	return nil
}

// TemplateHeight records the height of the daemon's current template
func (p *NetProbe) TemplateHeight(ctx context.Context, client *rpc.Client) error {
	if !p.flags.GBTHeight() {
		return nil
	}
	reply, err := client.Call(ctx, "getblocktemplate", templateRequest(""))
	if err != nil {
		if rpc.IsMethodNotFound(err) {
			p.flags.DisableGBTHeight()
			p.logger.Info("getblocktemplate not supported, height probe disabled")
			return nil
		}
		return err
	}
	var tpl struct {
		Height int64 `json:"height"`
	}
	if err := jsonx.Unmarshal(reply.Result, &tpl); err != nil || tpl.Height <= 0 {
		return errors.New(errors.ErrorTypeDecode, "getblocktemplate", "missing height")
	}
	p.network.SetHeight(uint32(tpl.Height))
	return nil
}

// ParseMiningInfo decodes a getmininginfo result. Difficulty is either a
// number or an object with a proof-of-work member; hashrate comes from
// networkhashps or netmhashps in MH/s.
func ParseMiningInfo(raw []byte) (diff, hashrate float64, blocks uint32, err error) {
	var info btcjson.GetMiningInfoResult
	if jsonx.Unmarshal(raw, &info) == nil && info.Difficulty > 0 {
		diff = info.Difficulty
		hashrate = float64(info.NetworkHashPS)
		blocks = uint32(info.Blocks)
	}

	var fields struct {
		Blocks     int64            `json:"blocks"`
		Difficulty jsonx.RawMessage `json:"difficulty"`
		NetHashPS  float64          `json:"networkhashps"`
		NetMHashPS float64          `json:"netmhashps"`
	}
	if err := jsonx.Unmarshal(raw, &fields); err != nil {
		return 0, 0, 0, errors.Wrap(err, errors.ErrorTypeDecode, "getmininginfo", "invalid result")
	}
	if diff == 0 && len(fields.Difficulty) > 0 {
		var obj struct {
			ProofOfWork float64 `json:"proof-of-work"`
		}
		if jsonx.Unmarshal(fields.Difficulty, &diff) != nil {
			if jsonx.Unmarshal(fields.Difficulty, &obj) == nil {
				diff = obj.ProofOfWork
			}
		}
	}
	if hashrate == 0 {
		hashrate = fields.NetHashPS
	}
	if hashrate == 0 && fields.NetMHashPS > 0 {
		hashrate = fields.NetMHashPS * 1e6
	}
	if blocks == 0 && fields.Blocks > 0 {
		blocks = uint32(fields.Blocks)
	}
	return diff, hashrate, blocks, nil
}

package hooks

import (
	"fmt"
	"strconv"

	"spdev/config"
	"spdev/internal/device"
	"spdev/internal/sp"
	"spdev/util"
)

// Sides tells Build which socket is which, for hooks bound to one
// direction.
type Sides struct {
	Front, Back sp.Socket
}

// Build turns hook configurations into one rewriter.  It returns nil
// when specs is empty, so the device forwards without a hook call.
func Build(specs []config.HookConfig, sides Sides, logger *util.Logger) (device.Rewriter, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	var chain []device.Rewriter
	for _, spec := range specs {
		h, err := build(spec, logger)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", spec, err)
		}
		switch spec.Direction {
		case config.DirectionForward:
			h = From(sides.Front, h)
		case config.DirectionBackward:
			h = From(sides.Back, h)
		}
		chain = append(chain, h)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return Chain(chain...), nil
}

func build(spec config.HookConfig, logger *util.Logger) (device.Rewriter, error) {
	switch spec.Name {
	case config.HookLog:
		return Log(logger), nil
	case config.HookMaxSize:
		n, err := strconv.Atoi(spec.Arg)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid size %q", spec.Arg)
		}
		return MaxSize(n), nil
	case config.HookDropEmpty:
		return DropEmpty(), nil
	case config.HookCompress:
		alg, err := ParseAlgorithm(spec.Arg)
		if err != nil {
			return nil, err
		}
		return Compress(alg), nil
	case config.HookDecompress:
		return Decompress(), nil
	case config.HookDigest:
		return Digest(spec.Arg), nil
	case config.HookVerifyDigest:
		return VerifyDigest(spec.Arg), nil
	case config.HookSeal:
		return Seal(spec.Arg)
	case config.HookOpen:
		return Open(spec.Arg)
	default:
		return nil, fmt.Errorf("unknown hook %q", spec.Name)
	}
}

package main

import (
	"context"
	"fmt"

	"ipcrpc/rpc"
)

// mathArgs is the fixed-size argument block of every math invoker.
type mathArgs struct {
	A      int64
	B      int64
	Result int64
}

// mathInterface returns the demo interface. With serve false the invokers have no
// handlers and are only used to emit calls.
func mathInterface(serve bool) (*rpc.Interface, map[string]*rpc.Invoker[mathArgs], error) {
	handlers := map[string]rpc.Handler[mathArgs]{
		"add": func(ctx context.Context, args *rpc.Args[mathArgs]) error {
			args.Value.Result = args.Value.A + args.Value.B
			return nil
		},
		"mul": func(ctx context.Context, args *rpc.Args[mathArgs]) error {
			args.Value.Result = args.Value.A * args.Value.B
			return nil
		},
		"div": func(ctx context.Context, args *rpc.Args[mathArgs]) error {
			if args.Value.B == 0 {
				return fmt.Errorf("division by zero")
			}
			args.Value.Result = args.Value.A / args.Value.B
			return nil
		},
	}

	iface := rpc.NewInterface("math")
	invokers := make(map[string]*rpc.Invoker[mathArgs], len(handlers))
	for _, name := range []string{"add", "mul", "div"} {
		var h rpc.Handler[mathArgs]
		if serve {
			h = handlers[name]
		}
		inv, err := rpc.NewInvoker(name, h)
		if err != nil {
			return nil, nil, err
		}
		if err := iface.Add(inv); err != nil {
			return nil, nil, err
		}
		invokers[name] = inv
	}
	return iface, invokers, nil
}

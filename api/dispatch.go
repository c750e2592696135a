// Package api exposes the chat service over JSON-RPC 2.0 on a plain TCP
// stream. Methods are dispatched by reflection against the RPC facade, so
// adding an operation is adding one exported method.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/sourcegraph/jsonrpc2"
)

// ServeRWC serves requests from one connection until it disconnects.
func ServeRWC(ctx context.Context, log *slog.Logger, rwc io.ReadWriteCloser, rpc *RPC) error {
	objStream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.PlainObjectCodec{})
	h := handler{log: log, rpc: rpc}
	c := jsonrpc2.NewConn(ctx, objStream, jsonrpc2.AsyncHandler(h))
	defer c.Close()
	<-c.DisconnectNotify()
	return nil
}

type handler struct {
	log *slog.Logger
	rpc *RPC
}

func (h handler) Handle(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
	if r.Params == nil {
		empty := json.RawMessage("{}")
		r.Params = &empty
	}
	y, err := call(ctx, h.rpc, r.Method, *r.Params)
	if err != nil {
		if err := c.ReplyWithError(ctx, r.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInternalError,
			Message: err.Error(),
		}); err != nil {
			h.log.Error("Reply with error failed", "method", r.Method, "error", err)
		}
		return
	}
	if err := c.Reply(ctx, r.ID, y); err != nil {
		h.log.Error("Reply failed", "method", r.Method, "error", err)
	}
}

// call finds method on target and unmarshals reqData into its request type.
//
// Valid method signatures:
//   - func (a *A) M(ctx context.Context) error
//   - func (a *A) M(ctx context.Context, req *X) error
//   - func (a *A) M(ctx context.Context) (*Y, error)
//   - func (a *A) M(ctx context.Context, req *X) (*Y, error)
func call(ctx context.Context, target interface{}, method string, reqData json.RawMessage) (interface{}, error) {
	ty := reflect.TypeOf(target)
	m, found := ty.MethodByName(method)
	if !found {
		return nil, fmt.Errorf("no method: %q", method)
	}
	if numIn := m.Type.NumIn(); numIn > 3 {
		return nil, fmt.Errorf("method %q has too many arguments", method)
	} else if numIn == 3 && m.Type.In(2).Kind() != reflect.Pointer {
		return nil, errors.New("input 2 must be a pointer")
	}
	var req reflect.Value
	if m.Type.NumIn() > 2 {
		req = reflect.New(m.Type.In(2).Elem())
		if err := json.Unmarshal(reqData, req.Interface()); err != nil {
			return nil, err
		}
	}

	if numOut := m.Type.NumOut(); numOut > 2 || numOut == 0 {
		return nil, errors.New("must have 1 or 2 outputs")
	}

	args := []reflect.Value{reflect.ValueOf(target), reflect.ValueOf(ctx)}
	if m.Type.NumIn() > 2 {
		args = append(args, req)
	}
	outs := m.Func.Call(args)
	if len(outs) == 1 {
		return struct{}{}, errorFromAny(outs[0].Interface())
	}
	return outs[0].Interface(), errorFromAny(outs[1].Interface())
}

func errorFromAny(x any) error {
	if x == nil {
		return nil
	}
	return x.(error)
}

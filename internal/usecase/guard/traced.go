package guard

import (
	"context"
	"encoding/json"

	"linerpc/internal/domain"
	"linerpc/internal/infra/tracer"
)

// NewTraced records one client span per request.
func NewTraced(inner domain.Requester) domain.Requester {
	return RequesterFunc(func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		ctx, span := tracer.StartClientSpan(ctx, "rpc "+method,
			tracer.StringAttr("rpc.system", "jsonrpc"),
			tracer.StringAttr("rpc.method", method),
		)
		defer span.End()

		res, err := inner.Request(ctx, method, params)
		if err != nil {
			span.SetAttributes(tracer.StringAttr("error.code", string(domain.ErrorCodeOf(err))))
			tracer.RecordError(span, err)
			return nil, err
		}
		span.SetAttributes(tracer.IntAttr("rpc.response.size", len(res)))
		tracer.SetOK(span)
		return res, nil
	})
}

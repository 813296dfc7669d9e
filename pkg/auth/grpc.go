package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// UnaryServerInterceptor runs g on the incoming "authorization" metadata.
// Unauthenticated calls fail with codes.Unauthenticated before handler
// runs. Admitted calls carry the verified token and a RequestContext
// built from the "authorization" and "traceid" metadata.
func UnaryServerInterceptor(g *Gate, rules ...Rule) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := g.authenticateGRPC(ctx, info.FullMethod, rules)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of [UnaryServerInterceptor].
func StreamServerInterceptor(g *Gate, rules ...Rule) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := g.authenticateGRPC(ss.Context(), info.FullMethod, rules)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor copies the RequestContext in ctx onto outgoing
// metadata, replacing any "authorization" or "traceid" already set.
// Calls without a RequestContext are sent unmodified.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		return invoker(forwardToGRPC(ctx), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming form of [UnaryClientInterceptor].
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		return streamer(forwardToGRPC(ctx), desc, cc, method, opts...)
	}
}

func (g *Gate) authenticateGRPC(ctx context.Context, method string, rules []Rule) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	rc := RequestContext{
		Authorization: Credential(firstValue(md, MetadataAuthorization)),
		TraceID:       firstValue(md, MetadataTraceID),
	}
	ctx = ContextWithRequestContext(ctx, rc)

	verified, err := g.Authenticate(ctx, rc.Authorization.Value())
	if err == nil {
		err = checkRules(verified, rules)
	}
	g.decide(ctx, method, rc.Authorization.Value(), verified, err)
	if err != nil {
		return ctx, grpcStatus(err)
	}
	return ContextWithToken(ctx, verified), nil
}

func grpcStatus(err error) error {
	msg := "unauthenticated"
	if e, ok := sserr.AsError(err); ok {
		msg = e.Message
	}
	switch {
	case sserr.IsAuthorization(err):
		return status.Error(codes.PermissionDenied, msg)
	case sserr.IsAuthentication(err):
		return status.Error(codes.Unauthenticated, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func forwardToGRPC(ctx context.Context) context.Context {
	rc, ok := RequestContextFromContext(ctx)
	if !ok || rc.IsZero() {
		return ctx
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	for key, value := range forwardedHeaders(rc, MetadataAuthorization, MetadataTraceID) {
		md.Set(key, value)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// wrappedServerStream overrides Context so stream handlers see the
// authenticated context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

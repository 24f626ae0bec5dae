package identity

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

const validateTokenMethod = "/auth.AuthService/ValidateToken"

// GRPCResolver delegates token validation to the auth service.
type GRPCResolver struct {
	conn grpc.ClientConnInterface
}

// NewGRPCResolver wraps an auth-service connection.
func NewGRPCResolver(conn grpc.ClientConnInterface) *GRPCResolver {
	return &GRPCResolver{conn: conn}
}

// Dial opens an instrumented connection to the auth service.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
}

// Resolve verifies the token remotely and returns the authenticated identity.
func (r *GRPCResolver) Resolve(ctx context.Context, credential string) (models.Identity, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"token": credential})
	if err != nil {
		return models.Identity{}, apperr.InvalidArgument("malformed credential")
	}

	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, validateTokenMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.Unauthenticated, codes.PermissionDenied:
			return models.Identity{}, apperr.Unauthenticated("invalid token")
		default:
			return models.Identity{}, apperr.Internal("identity service unavailable", err)
		}
	}

	fields := resp.GetFields()
	userID := fields["user_id"].GetStringValue()
	role := models.Role(fields["role"].GetStringValue())
	if !fields["valid"].GetBoolValue() || userID == "" || !role.Valid() {
		return models.Identity{}, apperr.Unauthenticated("invalid token")
	}
	return models.Identity{UserID: userID, Role: role}, nil
}

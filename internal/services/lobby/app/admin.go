package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/platform/grpc/pagination"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/storage"
)

// AdminServiceName is the fully qualified name of the admin service.
const AdminServiceName = "zk.lobby.admin.v1.LobbyAdmin"

// AdminServer is the operator API of a running lobby.
type AdminServer interface {
	ListBattles(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	CloseBattle(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	ReplaceBattle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListResults(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListKicks(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAdminServer attaches srv to a gRPC server.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListBattles", Handler: unaryHandler("ListBattles", func(srv AdminServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return srv.ListBattles(ctx, in)
		})},
		{MethodName: "CloseBattle", Handler: unaryHandler("CloseBattle", func(srv AdminServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.CloseBattle(ctx, in)
		})},
		{MethodName: "ReplaceBattle", Handler: unaryHandler("ReplaceBattle", func(srv AdminServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.ReplaceBattle(ctx, in)
		})},
		{MethodName: "ListResults", Handler: unaryHandler("ListResults", func(srv AdminServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.ListResults(ctx, in)
		})},
		{MethodName: "ListKicks", Handler: unaryHandler("ListKicks", func(srv AdminServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.ListKicks(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zk/lobby/admin/v1/admin.proto",
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[T any, PT interface {
	*T
}](method string, call func(AdminServer, context.Context, PT) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PT(new(T))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AdminServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServer), ctx, req.(PT))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var resultLimits = pagination.Limits{Default: 20, Max: 100}

// adminService implements AdminServer over the registry and stores.
type adminService struct {
	lobby   *Lobby
	results storage.ResultStore
	kicks   storage.KickStore
}

func newAdminService(lobby *Lobby, results storage.ResultStore, kicks storage.KickStore) *adminService {
	return &adminService{lobby: lobby, results: results, kicks: kicks}
}

func (s *adminService) ListBattles(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	battles := s.lobby.Battles()
	list := make([]any, 0, len(battles))
	for _, b := range battles {
		list = append(list, battleSummary(b))
	}
	return toStruct(map[string]any{"battles": list})
}

func (s *adminService) CloseBattle(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	id, err := intField(in, "battle_id", true)
	if err != nil {
		return nil, apperrors.ToGRPC(err)
	}
	if err := s.lobby.CloseBattle(ctx, id); err != nil {
		return nil, apperrors.ToGRPC(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *adminService) ReplaceBattle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := intField(in, "battle_id", true)
	if err != nil {
		return nil, apperrors.ToGRPC(err)
	}
	b, err := s.lobby.ReplaceBattle(ctx, id)
	if err != nil {
		return nil, apperrors.ToGRPC(err)
	}
	return toStruct(battleSummary(b))
}

func (s *adminService) ListResults(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.results == nil {
		return toStruct(map[string]any{"results": []any{}})
	}
	battleID, err := intField(in, "battle_id", false)
	if err != nil {
		return nil, apperrors.ToGRPC(err)
	}
	limit, err := intField(in, "limit", false)
	if err != nil {
		return nil, apperrors.ToGRPC(err)
	}
	limit = pagination.Clamp(limit, resultLimits)
	results, err := s.results.ListResults(ctx, battleID, limit)
	if err != nil {
		return nil, apperrors.ToGRPC(apperrors.Wrap(apperrors.CodeUnknown, "list results", err))
	}
	list := make([]any, 0, len(results))
	for _, r := range results {
		players := make([]any, 0, len(r.Players))
		for _, p := range r.Players {
			players = append(players, map[string]any{
				"name":         p.Name,
				"ally_number":  p.AllyNumber,
				"is_spectator": p.IsSpectator,
				"won":          p.Won,
			})
		}
		winners := make([]any, 0, len(r.WinnerAllies))
		for _, ally := range r.WinnerAllies {
			winners = append(winners, ally)
		}
		list = append(list, map[string]any{
			"id":            r.ID,
			"battle_id":     r.BattleID,
			"title":         r.Title,
			"map":           r.Map,
			"game":          r.Game,
			"engine":        r.Engine,
			"mode":          r.Mode,
			"started_at":    r.StartedAt.Format(time.RFC3339),
			"ended_at":      r.EndedAt.Format(time.RFC3339),
			"crashed":       r.Crashed,
			"winner_allies": winners,
			"players":       players,
		})
	}
	return toStruct(map[string]any{"results": list})
}

func (s *adminService) ListKicks(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.kicks == nil {
		return toStruct(map[string]any{"kicks": []any{}})
	}
	battleID, err := intField(in, "battle_id", true)
	if err != nil {
		return nil, apperrors.ToGRPC(err)
	}
	kicks, err := s.kicks.ListKicks(ctx, battleID)
	if err != nil {
		return nil, apperrors.ToGRPC(apperrors.Wrap(apperrors.CodeUnknown, "list kicks", err))
	}
	list := make([]any, 0, len(kicks))
	for _, k := range kicks {
		list = append(list, map[string]any{
			"battle_id": k.BattleID,
			"name":      k.Name,
			"reason":    k.Reason,
			"kicked_at": k.KickedAt.Format(time.RFC3339),
		})
	}
	return toStruct(map[string]any{"kicks": list})
}

func battleSummary(b *battle.Battle) map[string]any {
	h := b.Header()
	poll, _ := b.ActivePoll()
	return map[string]any{
		"id":              h.ID,
		"founder":         h.Founder,
		"title":           h.Title,
		"map":             h.Map,
		"game":            h.Game,
		"engine":          h.Engine,
		"mode":            h.Mode.String(),
		"state":           b.State().String(),
		"port":            h.Port,
		"max_players":     h.MaxPlayers,
		"player_count":    h.PlayerCount,
		"spectator_count": h.SpectatorCount,
		"is_running":      h.IsRunning,
		"is_autohost":     h.IsAutohost,
		"is_passworded":   h.IsPassworded(),
		"active_poll":     poll,
	}
}

func toStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, apperrors.ToGRPC(apperrors.Wrap(apperrors.CodeUnknown, "encode response", err))
	}
	return out, nil
}

func intField(in *structpb.Struct, name string, required bool) (int, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		if required {
			return 0, apperrors.New(apperrors.CodeInvalidArgument, name+" is required")
		}
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 0 || n.NumberValue != float64(int(n.NumberValue)) {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, name+" must be a non-negative integer")
	}
	return int(n.NumberValue), nil
}

// AdminClient calls the admin service over a client connection.
type AdminClient struct {
	conn grpc.ClientConnInterface
}

// NewAdminClient wraps conn.
func NewAdminClient(conn grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{conn: conn}
}

func (c *AdminClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	return c.conn.Invoke(ctx, "/"+AdminServiceName+"/"+method, in, out, opts...)
}

// ListBattles returns every open battle.
func (c *AdminClient) ListBattles(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ListBattles", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CloseBattle closes one battle.
func (c *AdminClient) CloseBattle(ctx context.Context, battleID int, opts ...grpc.CallOption) error {
	in, err := structpb.NewStruct(map[string]any{"battle_id": battleID})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "CloseBattle", in, new(emptypb.Empty), opts...)
}

// ReplaceBattle retires one battle and returns its replacement.
func (c *AdminClient) ReplaceBattle(ctx context.Context, battleID int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"battle_id": battleID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ReplaceBattle", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListResults returns stored game results; battleID zero lists all.
func (c *AdminClient) ListResults(ctx context.Context, battleID, limit int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"battle_id": battleID, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ListResults", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListKicks returns the kick audit of one battle.
func (c *AdminClient) ListKicks(ctx context.Context, battleID int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"battle_id": battleID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ListKicks", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

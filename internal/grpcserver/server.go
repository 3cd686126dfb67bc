// Package grpcserver exposes the booking service over gRPC. Messages are
// google.protobuf.Struct values so the service needs no generated code.
//
// The caller identity comes from request metadata and is not verified.
// The server is meant for trusted internal callers only, such as the
// spacebookctl operator CLI on the same host or a private network.
package grpcserver

import (
	"context"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "spacebook.v1.ReservationService"

	MethodCreateReservation  = "CreateReservation"
	MethodUpdateReservation  = "UpdateReservation"
	MethodCancelReservation  = "CancelReservation"
	MethodGetReservation     = "GetReservation"
	MethodListReservations   = "ListReservations"
	MethodAvailability       = "Availability"
	MethodActivate           = "Activate"
	MethodCurrentReservation = "CurrentReservation"
	MethodStatistics         = "Statistics"

	// MetadataHolderID carries the caller's holder id.
	MetadataHolderID = "x-holder-id"
	// MetadataRole carries the caller's role; absent means guest. It is
	// trusted as sent.
	MetadataRole = "x-role"
)

// ReservationService is the handler contract registered with ServiceDesc.
type ReservationService interface {
	CreateReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	UpdateReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	CancelReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListReservations(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Availability(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Activate(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	CurrentReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Statistics(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes ReservationService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReservationService)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc(MethodCreateReservation, ReservationService.CreateReservation),
		methodDesc(MethodUpdateReservation, ReservationService.UpdateReservation),
		methodDesc(MethodCancelReservation, ReservationService.CancelReservation),
		methodDesc(MethodGetReservation, ReservationService.GetReservation),
		methodDesc(MethodListReservations, ReservationService.ListReservations),
		methodDesc(MethodAvailability, ReservationService.Availability),
		methodDesc(MethodActivate, ReservationService.Activate),
		methodDesc(MethodCurrentReservation, ReservationService.CurrentReservation),
		methodDesc(MethodStatistics, ReservationService.Statistics),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spacebook/v1/reservation.proto",
}

// FullMethod returns the invocation path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Register attaches server to registrar.
func Register(registrar grpc.ServiceRegistrar, server ReservationService) {
	registrar.RegisterService(&ServiceDesc, server)
}

type unaryCall func(ReservationService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(structpb.Struct)
			if err := decode(request); err != nil {
				return nil, err
			}
			service := server.(ReservationService)
			if interceptor == nil {
				return call(service, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod}
			handler := func(ctx context.Context, request any) (any, error) {
				return call(service, ctx, request.(*structpb.Struct))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}

// ReservationServiceServer adapts booking.Service to ReservationService.
type ReservationServiceServer struct {
	bookingService *booking.Service
}

// NewReservationServiceServer constructs a gRPC server for the booking service.
func NewReservationServiceServer(bookingService *booking.Service) *ReservationServiceServer {
	return &ReservationServiceServer{bookingService: bookingService}
}

func (service *ReservationServiceServer) CreateReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	resourceID, err := booking.NewResourceID(stringField(request, fieldResourceID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	holderID, err := optionalHolderID(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	date, err := booking.NewDate(stringField(request, fieldDate))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	startSecond, endSecond, err := intervalFields(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservation, operationError := service.bookingService.CreateReservation(ctx, actor, booking.ReservationRequest{
		ResourceID:  resourceID,
		HolderID:    holderID,
		Date:        date,
		StartSecond: startSecond,
		EndSecond:   endSecond,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationResponse(reservation)
}

func (service *ReservationServiceServer) UpdateReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := booking.NewReservationID(stringField(request, fieldReservationID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	change := booking.ReservationChange{}
	if raw := stringField(request, fieldResourceID); raw != "" {
		if change.ResourceID, err = booking.NewResourceID(raw); err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	if raw := stringField(request, fieldDate); raw != "" {
		if change.Date, err = booking.NewDate(raw); err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	if change.StartSecond, change.EndSecond, err = intervalFields(request); err != nil {
		return nil, mapToGRPCError(err)
	}
	reservation, operationError := service.bookingService.UpdateReservation(ctx, actor, reservationID, change)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationResponse(reservation)
}

func (service *ReservationServiceServer) CancelReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := booking.NewReservationID(stringField(request, fieldReservationID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if operationError := service.bookingService.CancelReservation(ctx, actor, reservationID); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

func (service *ReservationServiceServer) GetReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := booking.NewReservationID(stringField(request, fieldReservationID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservation, operationError := service.bookingService.GetReservation(ctx, actor, reservationID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationResponse(reservation)
}

// ListReservations lists one resource's day when resource_id is given and
// otherwise the holder's reservations dated from "from" (default today).
func (service *ReservationServiceServer) ListReservations(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	var (
		reservations   []booking.Reservation
		operationError error
	)
	if raw := stringField(request, fieldResourceID); raw != "" {
		resourceID, err := booking.NewResourceID(raw)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		date, err := booking.NewDate(stringField(request, fieldDate))
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		reservations, operationError = service.bookingService.ListResourceReservations(ctx, resourceID, date)
	} else {
		holderID, err := optionalHolderID(request)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		if holderID.IsZero() {
			holderID = actor.HolderID
		}
		var from booking.Date
		if raw := stringField(request, fieldFrom); raw != "" {
			if from, err = booking.NewDate(raw); err != nil {
				return nil, mapToGRPCError(err)
			}
		}
		reservations, operationError = service.bookingService.ListHolderReservations(ctx, actor, holderID, from)
	}
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationsResponse(reservations)
}

func (service *ReservationServiceServer) Availability(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	date, err := booking.NewDate(stringField(request, fieldDate))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	startSecond, endSecond, err := intervalFields(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	view, operationError := service.bookingService.Availability(ctx, booking.AvailabilityQuery{
		Date:        date,
		StartSecond: startSecond,
		EndSecond:   endSecond,
	}, actor.Role)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return availabilityResponse(view)
}

// Activate checks the holder in. Without reservation_id the reservation in
// progress is activated.
func (service *ReservationServiceServer) Activate(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	holderID, err := optionalHolderID(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if holderID.IsZero() {
		holderID = actor.HolderID
	}
	token := stringField(request, fieldToken)
	var (
		reservation    booking.Reservation
		operationError error
	)
	if raw := stringField(request, fieldReservationID); raw != "" {
		reservationID, err := booking.NewReservationID(raw)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		reservation, operationError = service.bookingService.Activate(ctx, actor, reservationID, holderID, token)
	} else {
		reservation, operationError = service.bookingService.ActivateCurrent(ctx, actor, holderID, token)
	}
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationResponse(reservation)
}

func (service *ReservationServiceServer) CurrentReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	holderID, err := optionalHolderID(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if holderID.IsZero() {
		holderID = actor.HolderID
	}
	reservation, operationError := service.bookingService.CurrentReservation(ctx, actor, holderID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return reservationResponse(reservation)
}

// Statistics reports reservation usage. Admin only.
func (service *ReservationServiceServer) Statistics(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	stats, operationError := service.bookingService.Statistics(ctx, actor)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return statisticsResponse(stats)
}

func actorFromContext(ctx context.Context) (booking.Actor, error) {
	incoming, _ := metadata.FromIncomingContext(ctx)
	actor := booking.Actor{Role: booking.RoleGuest}
	if raw := firstMetadataValue(incoming, MetadataRole); raw != "" {
		role, err := booking.ParseRole(raw)
		if err != nil {
			return booking.Actor{}, err
		}
		actor.Role = role
	}
	if raw := firstMetadataValue(incoming, MetadataHolderID); raw != "" {
		holderID, err := booking.NewHolderID(raw)
		if err != nil {
			return booking.Actor{}, err
		}
		actor.HolderID = holderID
	}
	return actor, nil
}

func firstMetadataValue(incoming metadata.MD, key string) string {
	values := incoming.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// UnaryLoggingInterceptor logs every call with its status code and latency.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(started)),
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, zap.Error(err))...)
			return response, err
		}
		logger.Debug("grpc call", fields...)
		return response, nil
	}
}

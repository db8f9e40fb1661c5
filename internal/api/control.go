// Package api exposes the daemon over gRPC. Messages are protobuf Structs so
// the control surface stays schema-light for scripting clients.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "smsq.v1.Control"

// Method names.
const (
	MethodStatus            = "Status"
	MethodReconcileContacts = "ReconcileContacts"
	MethodListBatches       = "ListBatches"
	MethodStorageCounts     = "StorageCounts"
	MethodWipeUserData      = "WipeUserData"
	MethodSendMessage       = "SendMessage"
	MethodCancelBatch       = "CancelBatch"
	MethodRetryBatch        = "RetryBatch"
	MethodListContacts      = "ListContacts"
	MethodAddContact        = "AddContact"
	MethodDeleteContact     = "DeleteContact"
	MethodImportContacts    = "ImportContacts"
	MethodSaveDraft         = "SaveDraft"
	MethodListDrafts        = "ListDrafts"
	MethodLoadDraft         = "LoadDraft"
	MethodDeleteDraft       = "DeleteDraft"
)

// ControlServer is implemented by the daemon.
type ControlServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReconcileContacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBatches(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StorageCounts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WipeUserData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListContacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddContact(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteContact(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ImportContacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveDraft(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDrafts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadDraft(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteDraft(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ControlServiceDesc describes the control service for grpc.Server.RegisterService.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		handler(MethodStatus, ControlServer.Status),
		handler(MethodReconcileContacts, ControlServer.ReconcileContacts),
		handler(MethodListBatches, ControlServer.ListBatches),
		handler(MethodStorageCounts, ControlServer.StorageCounts),
		handler(MethodWipeUserData, ControlServer.WipeUserData),
		handler(MethodSendMessage, ControlServer.SendMessage),
		handler(MethodCancelBatch, ControlServer.CancelBatch),
		handler(MethodRetryBatch, ControlServer.RetryBatch),
		handler(MethodListContacts, ControlServer.ListContacts),
		handler(MethodAddContact, ControlServer.AddContact),
		handler(MethodDeleteContact, ControlServer.DeleteContact),
		handler(MethodImportContacts, ControlServer.ImportContacts),
		handler(MethodSaveDraft, ControlServer.SaveDraft),
		handler(MethodListDrafts, ControlServer.ListDrafts),
		handler(MethodLoadDraft, ControlServer.LoadDraft),
		handler(MethodDeleteDraft, ControlServer.DeleteDraft),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "smsq/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

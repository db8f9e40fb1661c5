package api

import (
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func field(in *structpb.Struct, key string) *structpb.Value {
	if in == nil {
		return nil
	}
	return in.GetFields()[key]
}

func stringField(in *structpb.Struct, key string) string {
	return field(in, key).GetStringValue()
}

func boolField(in *structpb.Struct, key string) bool {
	return field(in, key).GetBoolValue()
}

func numberField(in *structpb.Struct, key string) float64 {
	return field(in, key).GetNumberValue()
}

func stringsField(in *structpb.Struct, key string) []string {
	var out []string
	for _, v := range field(in, key).GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func structsField(in *structpb.Struct, key string) []*structpb.Struct {
	var out []*structpb.Struct
	for _, v := range field(in, key).GetListValue().GetValues() {
		if s := v.GetStructValue(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// anyList converts ids for structpb, which only accepts []any lists.
func anyList(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}

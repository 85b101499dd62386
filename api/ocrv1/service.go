package ocrv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "ocr.v1.Recognizer"

const (
	Recognizer_Recognize_FullMethodName      = "/ocr.v1.Recognizer/Recognize"
	Recognizer_BatchRecognize_FullMethodName = "/ocr.v1.Recognizer/BatchRecognize"
	Recognizer_Normalize_FullMethodName      = "/ocr.v1.Recognizer/Normalize"
	Recognizer_Status_FullMethodName         = "/ocr.v1.Recognizer/Status"
)

// RecognizerServer is the server API for the Recognizer service.
type RecognizerServer interface {
	Recognize(context.Context, *RecognizeRequest) (*RecognizeResponse, error)
	BatchRecognize(context.Context, *BatchRecognizeRequest) (*BatchRecognizeResponse, error)
	Normalize(context.Context, *NormalizeRequest) (*NormalizeResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// UnimplementedRecognizerServer can be embedded for forward compatibility.
type UnimplementedRecognizerServer struct{}

func (UnimplementedRecognizerServer) Recognize(context.Context, *RecognizeRequest) (*RecognizeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Recognize not implemented")
}

func (UnimplementedRecognizerServer) BatchRecognize(context.Context, *BatchRecognizeRequest) (*BatchRecognizeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method BatchRecognize not implemented")
}

func (UnimplementedRecognizerServer) Normalize(context.Context, *NormalizeRequest) (*NormalizeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Normalize not implemented")
}

func (UnimplementedRecognizerServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Status not implemented")
}

// RegisterRecognizerServer registers srv on s.
func RegisterRecognizerServer(s grpc.ServiceRegistrar, srv RecognizerServer) {
	s.RegisterService(&Recognizer_ServiceDesc, srv)
}

func _Recognizer_Recognize_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RecognizeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecognizerServer).Recognize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Recognizer_Recognize_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecognizerServer).Recognize(ctx, req.(*RecognizeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Recognizer_BatchRecognize_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BatchRecognizeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecognizerServer).BatchRecognize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Recognizer_BatchRecognize_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecognizerServer).BatchRecognize(ctx, req.(*BatchRecognizeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Recognizer_Normalize_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(NormalizeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecognizerServer).Normalize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Recognizer_Normalize_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecognizerServer).Normalize(ctx, req.(*NormalizeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Recognizer_Status_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecognizerServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Recognizer_Status_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecognizerServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Recognizer_ServiceDesc is the grpc.ServiceDesc for the Recognizer service.
var Recognizer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecognizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Recognize", Handler: _Recognizer_Recognize_Handler},
		{MethodName: "BatchRecognize", Handler: _Recognizer_BatchRecognize_Handler},
		{MethodName: "Normalize", Handler: _Recognizer_Normalize_Handler},
		{MethodName: "Status", Handler: _Recognizer_Status_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ocr/v1/recognizer.proto",
}

// RecognizerClient is the client API for the Recognizer service. Calls use
// the JSON codec.
type RecognizerClient interface {
	Recognize(ctx context.Context, in *RecognizeRequest, opts ...grpc.CallOption) (*RecognizeResponse, error)
	BatchRecognize(ctx context.Context, in *BatchRecognizeRequest, opts ...grpc.CallOption) (*BatchRecognizeResponse, error)
	Normalize(ctx context.Context, in *NormalizeRequest, opts ...grpc.CallOption) (*NormalizeResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type recognizerClient struct {
	cc grpc.ClientConnInterface
}

func NewRecognizerClient(cc grpc.ClientConnInterface) RecognizerClient {
	return &recognizerClient{cc}
}

func (c *recognizerClient) Recognize(ctx context.Context, in *RecognizeRequest, opts ...grpc.CallOption) (*RecognizeResponse, error) {
	out := new(RecognizeResponse)
	if err := c.cc.Invoke(ctx, Recognizer_Recognize_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recognizerClient) BatchRecognize(ctx context.Context, in *BatchRecognizeRequest, opts ...grpc.CallOption) (*BatchRecognizeResponse, error) {
	out := new(BatchRecognizeResponse)
	if err := c.cc.Invoke(ctx, Recognizer_BatchRecognize_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recognizerClient) Normalize(ctx context.Context, in *NormalizeRequest, opts ...grpc.CallOption) (*NormalizeResponse, error) {
	out := new(NormalizeResponse)
	if err := c.cc.Invoke(ctx, Recognizer_Normalize_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recognizerClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, Recognizer_Status_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

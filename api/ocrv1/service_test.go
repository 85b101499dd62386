package ocrv1

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoServer struct {
	UnimplementedRecognizerServer
}

func (echoServer) Normalize(_ context.Context, req *NormalizeRequest) (*NormalizeResponse, error) {
	return &NormalizeResponse{Text: "<" + req.Text + ">"}, nil
}

func (echoServer) Recognize(_ context.Context, req *RecognizeRequest) (*RecognizeResponse, error) {
	return &RecognizeResponse{RawText: string(req.Image), TokenIds: []int32{2, int32(req.MaxTokens)}, State: "DONE"}, nil
}

func dial(t *testing.T, srv RecognizerServer, opts ...grpc.ServerOption) RecognizerClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(opts...)
	RegisterRecognizerServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewRecognizerClient(conn)
}

func TestCodec_Structs(t *testing.T) {
	c := Codec{}
	assert.Equal(t, "json", c.Name())

	data, err := c.Marshal(&RecognizeRequest{Image: []byte("hi"), MaxTokens: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"image":"aGk=","max_tokens":5}`, string(data))

	var out RecognizeRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, []byte("hi"), out.Image)
	assert.Equal(t, int32(5), out.MaxTokens)

	assert.Error(t, c.Unmarshal([]byte("{"), &out))
}

func TestCodec_ProtoMessages(t *testing.T) {
	c := Codec{}
	data, err := c.Marshal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SERVING"}`, string(data))

	var out healthpb.HealthCheckResponse
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, out.Status)
}

func TestClientServer(t *testing.T) {
	var seen []string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		seen = append(seen, info.FullMethod)
		return handler(ctx, req)
	}
	client := dial(t, echoServer{}, grpc.ChainUnaryInterceptor(interceptor))
	ctx := context.Background()

	norm, err := client.Normalize(ctx, &NormalizeRequest{Text: "ab"})
	require.NoError(t, err)
	assert.Equal(t, "<ab>", norm.Text)

	rec, err := client.Recognize(ctx, &RecognizeRequest{Image: []byte("img"), MaxTokens: 9})
	require.NoError(t, err)
	assert.Equal(t, "img", rec.RawText)
	assert.Equal(t, []int32{2, 9}, rec.TokenIds)

	_, err = client.Status(ctx, &StatusRequest{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	assert.Equal(t, []string{
		Recognizer_Normalize_FullMethodName,
		Recognizer_Recognize_FullMethodName,
		Recognizer_Status_FullMethodName,
	}, seen)
}

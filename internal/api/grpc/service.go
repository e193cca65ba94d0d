package grpcapi

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"speech-bridge-service/internal/models"
)

// Messages travel as JSON under the "json" content subtype.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const (
	ServiceName      = "speech.bridge.v1.SpeechBridge"
	transcribeMethod = "/" + ServiceName + "/Transcribe"
)

// AudioChunk is one client message. The first chunk carries the interaction
// metadata; later chunks only need Audio. EndOfAudio ends input without
// closing the send side.
type AudioChunk struct {
	InteractionID string `json:"interactionId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	Language      string `json:"language,omitempty"`
	Audio         []byte `json:"audio,omitempty"`
	EndOfAudio    bool   `json:"endOfAudio,omitempty"`
}

// SpeechEvent is one server message.
type SpeechEvent = models.StreamEvent

// SpeechBridgeServer is implemented by the service.
type SpeechBridgeServer interface {
	Transcribe(TranscribeServerStream) error
}

type TranscribeServerStream interface {
	Send(*SpeechEvent) error
	Recv() (*AudioChunk, error)
	grpc.ServerStream
}

type transcribeServerStream struct {
	grpc.ServerStream
}

func (x *transcribeServerStream) Send(m *SpeechEvent) error {
	return x.ServerStream.SendMsg(m)
}

func (x *transcribeServerStream) Recv() (*AudioChunk, error) {
	m := new(AudioChunk)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func transcribeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SpeechBridgeServer).Transcribe(&transcribeServerStream{stream})
}

// ServiceDesc describes the SpeechBridge service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SpeechBridgeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Transcribe",
			Handler:       transcribeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

func RegisterSpeechBridgeServer(s grpc.ServiceRegistrar, srv SpeechBridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SpeechBridgeClient calls the SpeechBridge service.
type SpeechBridgeClient struct {
	cc grpc.ClientConnInterface
}

func NewSpeechBridgeClient(cc grpc.ClientConnInterface) *SpeechBridgeClient {
	return &SpeechBridgeClient{cc: cc}
}

type TranscribeClientStream interface {
	Send(*AudioChunk) error
	Recv() (*SpeechEvent, error)
	grpc.ClientStream
}

// Transcribe opens a bidirectional audio/event stream.
func (c *SpeechBridgeClient) Transcribe(ctx context.Context, opts ...grpc.CallOption) (TranscribeClientStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], transcribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &transcribeClientStream{stream}, nil
}

type transcribeClientStream struct {
	grpc.ClientStream
}

func (x *transcribeClientStream) Send(m *AudioChunk) error {
	return x.ClientStream.SendMsg(m)
}

func (x *transcribeClientStream) Recv() (*SpeechEvent, error) {
	m := new(SpeechEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

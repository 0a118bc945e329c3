package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/emojify/internal/facedetect"
	"github.com/example/emojify/internal/logging"
)

// DetectMethod is the unary RPC served by the face detection service. It takes
// the raw image as a BytesValue and answers with a Struct holding a "faces" list.
const DetectMethod = "/emojify.v1.FaceDetector/Detect"

// unknownProbability is what the detector reports for a missing classification.
const unknownProbability = -1

// DialFaceDetector returns a ready-to-use gRPC client for the face detection service.
func DialFaceDetector(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (facedetect.Detector, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_detector", "", err)
		logger.Error("failed to dial face detector", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewFaceDetector(conn, logger), conn, nil
}

// NewFaceDetector wraps an existing connection.
func NewFaceDetector(conn grpc.ClientConnInterface, logger *zap.Logger) facedetect.Detector {
	return &grpcFaceDetector{conn: conn, logger: logger.Named("face_detector")}
}

type grpcFaceDetector struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcFaceDetector) Detect(ctx context.Context, requestID string, imageBytes []byte) ([]facedetect.DetectedFace, error) {
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectMethod, wrapperspb.Bytes(imageBytes), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_faces", requestID, err)
		g.logger.Error("face detector call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	faces, err := DecodeFaces(resp)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.decode_faces", requestID, err)
		g.logger.Error("malformed face detector response", zap.Error(wrapped))
		return nil, wrapped
	}
	g.logger.Debug("faces detected", zap.String("request_id", requestID), zap.Int("count", len(faces)))
	return faces, nil
}

// DecodeFaces reads the "faces" list of a detector response. Missing
// probabilities decode as unknown so validation rejects them.
func DecodeFaces(resp *structpb.Struct) ([]facedetect.DetectedFace, error) {
	field, ok := resp.GetFields()["faces"]
	if !ok {
		return nil, nil
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("faces is %T, want list", field.GetKind())
	}

	faces := make([]facedetect.DetectedFace, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("faces[%d] is not an object", i)
		}
		fields := s.GetFields()
		number := func(key string, fallback float64) float64 {
			if f, ok := fields[key]; ok {
				if _, isNumber := f.GetKind().(*structpb.Value_NumberValue); isNumber {
					return f.GetNumberValue()
				}
			}
			return fallback
		}
		faces = append(faces, facedetect.DetectedFace{
			X:            number("x", 0),
			Y:            number("y", 0),
			Width:        number("width", 0),
			Height:       number("height", 0),
			Smiling:      number("smiling", unknownProbability),
			LeftEyeOpen:  number("left_eye_open", unknownProbability),
			RightEyeOpen: number("right_eye_open", unknownProbability),
		})
	}
	return faces, nil
}

// EncodeFaces builds a detector response for faces. It is the server-side
// counterpart of DecodeFaces.
func EncodeFaces(faces []facedetect.DetectedFace) (*structpb.Struct, error) {
	values := make([]interface{}, 0, len(faces))
	for _, f := range faces {
		values = append(values, map[string]interface{}{
			"x":              f.X,
			"y":              f.Y,
			"width":          f.Width,
			"height":         f.Height,
			"smiling":        f.Smiling,
			"left_eye_open":  f.LeftEyeOpen,
			"right_eye_open": f.RightEyeOpen,
		})
	}
	return structpb.NewStruct(map[string]interface{}{"faces": values})
}

// Package mqttworker serves emojify requests over MQTT request/response topics.
package mqttworker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/emojify/internal/config"
	"github.com/example/emojify/internal/emoji"
	"github.com/example/emojify/internal/facedetect"
	"github.com/example/emojify/internal/usecase"
)

// Emojifier is the use case operation the worker serves.
type Emojifier interface {
	Emojify(ctx context.Context, userID string, imageBytes []byte, faces []facedetect.DetectedFace) (*usecase.Outcome, error)
}

// Request is the JSON payload published on the request topic. Payload holds
// the base64 encoded image.
type Request struct {
	RequestID string                    `json:"requestId"`
	UserID    string                    `json:"userId"`
	Payload   string                    `json:"payload"`
	Faces     []facedetect.DetectedFace `json:"faces,omitempty"`
}

// Response is published on the per-request response topic.
type Response struct {
	RequestID   string           `json:"requestId"`
	ResultID    string           `json:"resultId,omitempty"`
	NoFaces     bool             `json:"noFaces"`
	Categories  []emoji.Category `json:"categories,omitempty"`
	ContentType string           `json:"contentType,omitempty"`
	Payload     string           `json:"payload,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Worker subscribes to emojify requests and publishes results.
type Worker struct {
	svc     Emojifier
	logger  *zap.Logger
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewWorker constructs a worker publishing under prefix.
func NewWorker(svc Emojifier, logger *zap.Logger, prefix string, qos byte) *Worker {
	return &Worker{
		svc:     svc,
		logger:  logger.Named("mqtt_worker"),
		prefix:  prefix,
		qos:     qos,
		timeout: 30 * time.Second,
	}
}

// RequestTopic is where requests arrive.
func (w *Worker) RequestTopic() string {
	return w.prefix + "/emojify/request"
}

// ResponseTopic is where the response to requestID is published.
func (w *Worker) ResponseTopic(requestID string) string {
	return w.prefix + "/emojify/response/" + requestID
}

// ClientOptions builds paho options that (re)subscribe on every connect.
func (w *Worker) ClientOptions(cfg config.MQTTConfig) *mqtt.ClientOptions {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "emojify-" + uuid.NewString()
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := w.Subscribe(c); err != nil {
			w.logger.Error("subscribe failed", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		w.logger.Warn("mqtt connection lost", zap.Error(err))
	})
	return opts
}

// Subscribe registers the request handler on c.
func (w *Worker) Subscribe(c mqtt.Client) error {
	token := c.Subscribe(w.RequestTopic(), w.qos, func(c mqtt.Client, m mqtt.Message) {
		payload := append([]byte(nil), m.Payload()...)
		go w.serve(c, payload)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", w.RequestTopic(), err)
	}
	w.logger.Info("subscribed", zap.String("topic", w.RequestTopic()))
	return nil
}

// Run connects client and serves until ctx is done.
func (w *Worker) Run(ctx context.Context, client mqtt.Client) error {
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

func (w *Worker) serve(c mqtt.Client, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	resp, ok := w.Handle(ctx, payload)
	if !ok {
		return
	}
	if err := w.publish(c, resp); err != nil {
		w.logger.Error("publish failed", zap.String("request_id", resp.RequestID), zap.Error(err))
	}
}

// Handle processes one raw request. ok is false when the request cannot be
// answered because it carries no request id.
func (w *Worker) Handle(ctx context.Context, payload []byte) (resp Response, ok bool) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		w.logger.Warn("error parsing request", zap.Error(err))
		return Response{}, false
	}
	if req.RequestID == "" {
		w.logger.Warn("request without id dropped")
		return Response{}, false
	}
	resp.RequestID = req.RequestID
	reqLogger := w.logger.With(zap.String("mqtt_request_id", req.RequestID))

	image, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		reqLogger.Warn("error decoding base64 image", zap.Error(err))
		resp.Error = "payload is not valid base64"
		return resp, true
	}
	if req.UserID == "" {
		resp.Error = "userId is required"
		return resp, true
	}

	outcome, err := w.svc.Emojify(ctx, req.UserID, image, req.Faces)
	if err != nil {
		reqLogger.Error("emojify failed", zap.Error(err))
		resp.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			resp.Error = "timed out"
		}
		return resp, true
	}

	resp.ResultID = outcome.RequestID
	resp.NoFaces = outcome.NoFaces
	resp.ContentType = outcome.ContentType
	resp.Payload = base64.StdEncoding.EncodeToString(outcome.Image)
	for _, f := range outcome.Faces {
		if !f.Skipped {
			resp.Categories = append(resp.Categories, f.Category)
		}
	}
	reqLogger.Info("request served", zap.String("result_id", resp.ResultID), zap.Int("faces", len(resp.Categories)))
	return resp, true
}

func (w *Worker) publish(c mqtt.Client, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	token := c.Publish(w.ResponseTopic(resp.RequestID), w.qos, false, body)
	token.Wait()
	return token.Error()
}

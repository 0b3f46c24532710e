package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"expense-agent/internal/domain"
	"expense-agent/internal/media"
	"expense-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// MessageProcessor is the use case behind the HTTP surface.
type MessageProcessor interface {
	HandleMessage(ctx context.Context, in usecase.MessageInput) (usecase.Outcome, error)
	ConfirmBatch(ctx context.Context, conversationKey, batchID string) (usecase.Outcome, error)
	CancelBatch(ctx context.Context, conversationKey, batchID string) (usecase.Outcome, error)
}

type Handler struct {
	uc  MessageProcessor
	log *zap.Logger
}

func NewHandler(uc MessageProcessor, log *zap.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{uc: uc, log: log}, nil
}

type messageRequest struct {
	ConversationKey  string `json:"conversationKey"`
	UserID           string `json:"userId"`
	GroupScope       *int64 `json:"groupScope,omitempty"`
	Kind             string `json:"kind"`
	Text             string `json:"text"`
	Media            []byte `json:"media,omitempty"`
	MIME             string `json:"mimeType,omitempty"`
	FileName         string `json:"fileName,omitempty"`
	ReplyToExpenseID string `json:"replyToExpenseId,omitempty"`
	Today            string `json:"today,omitempty"`
	DefaultCurrency  string `json:"defaultCurrency,omitempty"`
}

type batchRequest struct {
	ConversationKey string `json:"conversationKey"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// Handle routes API Gateway proxy requests:
//
//	POST /messages
//	POST /receipts/{id}/confirm
//	POST /receipts/{id}/cancel
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With(zap.String("correlation_id", correlationID), zap.String("path", req.Path))

	if req.HTTPMethod != http.MethodPost {
		return h.fail(log, correlationID, http.StatusMethodNotAllowed, string(usecase.ErrorInvalidInput), "method_not_allowed"), nil
	}
	body, err := requestBody(req)
	if err != nil {
		return h.fail(log, correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body"), nil
	}

	var (
		out   usecase.Outcome
		ucErr error
	)
	route, batchID := parseRoute(req)
	switch route {
	case routeMessages:
		var in messageRequest
		if err := decodeStrict(body, &in); err != nil {
			return h.fail(log, correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_json"), nil
		}
		msg, err := in.toInput()
		if err != nil {
			return h.fail(log, correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), err.Error()), nil
		}
		out, ucErr = h.uc.HandleMessage(ctx, msg)
	case routeConfirm, routeCancel:
		var in batchRequest
		if err := decodeStrict(body, &in); err != nil {
			return h.fail(log, correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_json"), nil
		}
		if strings.TrimSpace(in.ConversationKey) == "" {
			return h.fail(log, correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "conversation_key_required"), nil
		}
		if route == routeConfirm {
			out, ucErr = h.uc.ConfirmBatch(ctx, in.ConversationKey, batchID)
		} else {
			out, ucErr = h.uc.CancelBatch(ctx, in.ConversationKey, batchID)
		}
	default:
		return h.fail(log, correlationID, http.StatusNotFound, string(usecase.ErrorInvalidInput), "route_not_found"), nil
	}

	if ucErr != nil {
		var ue *usecase.Error
		if errors.As(ucErr, &ue) {
			return h.fail(log.With(zap.Error(ucErr)), correlationID, statusFor(ue.Code), string(ue.Code), ue.Reason), nil
		}
		log.Error("unhandled use case error", zap.Error(ucErr))
		return h.fail(log, correlationID, http.StatusInternalServerError, string(usecase.ErrorInternal), "unexpected_error"), nil
	}

	log.Info("message processed", zap.String("outcome", string(out.Kind)), zap.String("code", string(out.Code)))
	return jsonResponse(http.StatusOK, correlationID, render(out)), nil
}

func (in messageRequest) toInput() (usecase.MessageInput, error) {
	msg := usecase.MessageInput{
		ConversationKey:  strings.TrimSpace(in.ConversationKey),
		UserID:           strings.TrimSpace(in.UserID),
		GroupScope:       in.GroupScope,
		Kind:             media.Kind(strings.ToLower(strings.TrimSpace(in.Kind))),
		Text:             in.Text,
		Media:            in.Media,
		MIME:             in.MIME,
		FileName:         in.FileName,
		ReplyToExpenseID: strings.TrimSpace(in.ReplyToExpenseID),
		DefaultCurrency:  in.DefaultCurrency,
	}
	if in.Today != "" {
		today, ok := domain.ParseDate(in.Today)
		if !ok {
			return usecase.MessageInput{}, errors.New("invalid_today")
		}
		msg.Today = today
	}
	if msg.Kind != "" && msg.Kind != media.KindText && len(msg.Media) == 0 {
		return usecase.MessageInput{}, errors.New("media_required")
	}
	return msg, nil
}

type routeKind int

const (
	routeUnknown routeKind = iota
	routeMessages
	routeConfirm
	routeCancel
)

func parseRoute(req events.APIGatewayProxyRequest) (routeKind, string) {
	parts := strings.Split(strings.Trim(req.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "messages":
		return routeMessages, ""
	case len(parts) == 3 && parts[0] == "receipts":
		id := parts[1]
		if p := req.PathParameters["id"]; p != "" {
			id = p
		}
		switch parts[2] {
		case "confirm":
			return routeConfirm, id
		case "cancel":
			return routeCancel, id
		}
	}
	return routeUnknown, ""
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case usecase.ErrorStaleReference:
		return http.StatusConflict
	case usecase.ErrorExtractionEmpty, usecase.ErrorAmbiguousCorrection:
		return http.StatusUnprocessableEntity
	case usecase.ErrorMalformedResponse:
		return http.StatusBadGateway
	case usecase.ErrorServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(log *zap.Logger, correlationID string, status int, code, reason string) events.APIGatewayProxyResponse {
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.String("code", code), zap.String("reason", reason))
	} else {
		log.Info("request rejected", zap.Int("status", status), zap.String("code", code), zap.String("reason", reason))
	}
	return jsonResponse(status, correlationID, errorResponse{Error: code, Reason: reason, CorrelationID: correlationID})
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

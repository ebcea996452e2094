package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/service"
)

type DeliveryService interface {
	Send(ctx context.Context, req domain.DeliveryRequest) (*domain.DeliveryAttempt, error)
	SendTemplate(ctx context.Context, req service.TemplateRequest) (*domain.DeliveryAttempt, error)
	DeliveryHistory(ctx context.Context, deliveryID string) ([]domain.DeliveryEvent, error)
}

type DeliveryHandler struct {
	service DeliveryService
}

func NewDeliveryHandler(service DeliveryService) (*DeliveryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	return &DeliveryHandler{service: service}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, service DeliveryService) error {
	h, err := NewDeliveryHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/deliveries", h.CreateDelivery)
	v1.Post("/deliveries/templates/:name", h.CreateTemplateDelivery)
	v1.Get("/deliveries/:id", h.GetDeliveryHistory)

	return nil
}

type attachmentRequest struct {
	Filename    string `json:"filename"`
	Content     []byte `json:"content"`
	ContentType string `json:"contentType"`
}

type createDeliveryRequest struct {
	ClientID    *string             `json:"clientId"`
	Channel     string              `json:"channel"`
	To          []string            `json:"to"`
	Cc          []string            `json:"cc"`
	Bcc         []string            `json:"bcc"`
	Subject     string              `json:"subject"`
	TextBody    string              `json:"textBody"`
	HTMLBody    string              `json:"htmlBody"`
	Attachments []attachmentRequest `json:"attachments"`
	ReplyTo     string              `json:"replyTo"`
	From        string              `json:"from"`
	Priority    int                 `json:"priority"`
}

type createTemplateDeliveryRequest struct {
	ClientID *string           `json:"clientId"`
	To       []string          `json:"to"`
	Cc       []string          `json:"cc"`
	ReplyTo  string            `json:"replyTo"`
	Priority int               `json:"priority"`
	Data     map[string]string `json:"data"`
	Document []byte            `json:"document"`
}

type deliveryResponse struct {
	ID          string    `json:"id"`
	ClientID    *string   `json:"clientId,omitempty"`
	Channel     string    `json:"channel"`
	Recipients  []string  `json:"recipients"`
	Subject     string    `json:"subject,omitempty"`
	Attachments int       `json:"attachments"`
	Priority    int       `json:"priority"`
	NextRetryAt time.Time `json:"nextRetryAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type deliveryEventResponse struct {
	SendNumber  int        `json:"sendNumber"`
	Outcome     string     `json:"outcome"`
	MessageID   *string    `json:"messageId,omitempty"`
	Error       *string    `json:"error,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type deliveryHistoryResponse struct {
	DeliveryID string                  `json:"deliveryId"`
	Status     string                  `json:"status"`
	Events     []deliveryEventResponse `json:"events"`
}

func (h *DeliveryHandler) CreateDelivery(c *fiber.Ctx) error {
	var req createDeliveryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	deliveryReq, err := requestToDeliveryRequest(req)
	if err != nil {
		return err
	}

	attempt, err := h.service.Send(c.UserContext(), deliveryReq)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(toDeliveryResponse(attempt))
}

func (h *DeliveryHandler) CreateTemplateDelivery(c *fiber.Ctx) error {
	var req createTemplateDeliveryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	attempt, err := h.service.SendTemplate(c.UserContext(), service.TemplateRequest{
		Template: c.Params("name"),
		ClientID: req.ClientID,
		To:       req.To,
		Cc:       req.Cc,
		ReplyTo:  req.ReplyTo,
		Priority: req.Priority,
		Data:     req.Data,
		Document: req.Document,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(toDeliveryResponse(attempt))
}

func (h *DeliveryHandler) GetDeliveryHistory(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	events, err := h.service.DeliveryHistory(c.UserContext(), id)
	if err != nil {
		return err
	}

	resp := deliveryHistoryResponse{
		DeliveryID: id,
		Status:     deliveryStatus(events),
		Events:     make([]deliveryEventResponse, 0, len(events)),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, deliveryEventResponse{
			SendNumber:  e.SendNumber,
			Outcome:     e.Outcome.String(),
			MessageID:   e.MessageID,
			Error:       e.Error,
			NextRetryAt: e.NextRetryAt,
			CreatedAt:   e.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

// deliveryStatus summarizes a send history by its latest outcome.
func deliveryStatus(events []domain.DeliveryEvent) string {
	if len(events) == 0 {
		return "PENDING"
	}
	return events[len(events)-1].Outcome.String()
}

func requestToDeliveryRequest(req createDeliveryRequest) (domain.DeliveryRequest, error) {
	var channel domain.Channel
	if strings.TrimSpace(req.Channel) != "" {
		parsed, err := domain.ParseChannelFromString(req.Channel)
		if err != nil {
			return domain.DeliveryRequest{}, err
		}
		channel = parsed
	}

	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, domain.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}

	return domain.DeliveryRequest{
		ClientID:    req.ClientID,
		Channel:     channel,
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     req.Subject,
		TextBody:    req.TextBody,
		HTMLBody:    req.HTMLBody,
		Attachments: attachments,
		ReplyTo:     req.ReplyTo,
		From:        req.From,
		Priority:    req.Priority,
	}, nil
}

func toDeliveryResponse(a *domain.DeliveryAttempt) deliveryResponse {
	if a == nil {
		return deliveryResponse{}
	}

	return deliveryResponse{
		ID:          a.ID,
		ClientID:    a.ClientID,
		Channel:     a.Channel.String(),
		Recipients:  a.Recipients(),
		Subject:     a.Subject,
		Attachments: len(a.Attachments),
		Priority:    a.Priority,
		NextRetryAt: a.NextRetryAt,
		CreatedAt:   a.CreatedAt,
	}
}

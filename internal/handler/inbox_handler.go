package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/service"
)

type InboxService interface {
	PrioritizeInbox(ctx context.Context, limit int) ([]service.PrioritizedCommunication, error)
	UpdateStatus(ctx context.Context, id string, next domain.Status) (bool, error)
	RecordInbound(ctx context.Context, c *domain.Communication) (*domain.Communication, error)
	RankClients(ctx context.Context, limit int) ([]service.RankedClient, error)
	Annotate(ctx context.Context, id string, annotations domain.Annotations) (*domain.Communication, error)
	ClientHistory(ctx context.Context, clientID string, channel *domain.Channel, limit, offset int) ([]domain.Communication, error)
}

type InboxHandler struct {
	service InboxService
}

func NewInboxHandler(service InboxService) (*InboxHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("inbox service is required")
	}
	return &InboxHandler{service: service}, nil
}

func RegisterInboxRoutes(router fiber.Router, service InboxService) error {
	h, err := NewInboxHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/inbox", h.GetInbox)
	v1.Post("/communications", h.CreateCommunication)
	v1.Patch("/communications/:id", h.AnnotateCommunication)
	v1.Post("/communications/:id/status", h.UpdateCommunicationStatus)
	v1.Get("/clients/priority", h.RankClients)
	v1.Get("/clients/:id/communications", h.ClientHistory)

	return nil
}

type createCommunicationRequest struct {
	ClientID       string                  `json:"clientId"`
	Channel        string                  `json:"channel"`
	OccurredAt     *time.Time              `json:"occurredAt"`
	Body           string                  `json:"body"`
	Transcription  *string                 `json:"transcription"`
	Category       *string                 `json:"category"`
	Attachments    []domain.AttachmentMeta `json:"attachments"`
	Sentiment      *float64                `json:"sentiment"`
	Classification *string                 `json:"classification"`
}

type annotateCommunicationRequest struct {
	Category       *string  `json:"category"`
	Classification *string  `json:"classification"`
	Sentiment      *float64 `json:"sentiment"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type communicationResponse struct {
	ID             string                  `json:"id"`
	ClientID       string                  `json:"clientId"`
	Channel        string                  `json:"channel"`
	Direction      string                  `json:"direction"`
	OccurredAt     time.Time               `json:"occurredAt"`
	Body           string                  `json:"body"`
	Transcription  *string                 `json:"transcription,omitempty"`
	Category       *string                 `json:"category,omitempty"`
	Status         string                  `json:"status"`
	Attachments    []domain.AttachmentMeta `json:"attachments,omitempty"`
	Sentiment      *float64                `json:"sentiment,omitempty"`
	Classification *string                 `json:"classification,omitempty"`
}

type inboxItemResponse struct {
	communicationResponse
	PriorityScore       float64   `json:"priorityScore"`
	SuggestedResponseAt time.Time `json:"suggestedResponseAt"`
	Suggestions         []string  `json:"suggestions"`
}

type inboxResponse struct {
	Data     []inboxItemResponse `json:"data"`
	Degraded bool                `json:"degraded"`
}

type rankedClientResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Email            string  `json:"email,omitempty"`
	ImportanceRating float64 `json:"importanceRating"`
	Score            float64 `json:"score"`
}

// GetInbox returns the prioritized inbox. A store outage is reported as a
// degraded, empty inbox rather than an error so dashboards keep rendering.
func (h *InboxHandler) GetInbox(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	items, err := h.service.PrioritizeInbox(c.UserContext(), limit)
	degraded := errors.Is(err, domain.ErrStoreUnavailable)
	if err != nil && !degraded {
		return err
	}

	resp := inboxResponse{
		Data:     make([]inboxItemResponse, 0, len(items)),
		Degraded: degraded,
	}
	for i := range items {
		resp.Data = append(resp.Data, inboxItemResponse{
			communicationResponse: toCommunicationResponse(&items[i].Communication),
			PriorityScore:         items[i].PriorityScore,
			SuggestedResponseAt:   items[i].SuggestedResponseAt,
			Suggestions:           items[i].Suggestions,
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *InboxHandler) CreateCommunication(c *fiber.Ctx) error {
	var req createCommunicationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	communication, err := requestToCommunication(req)
	if err != nil {
		return err
	}

	saved, err := h.service.RecordInbound(c.UserContext(), communication)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toCommunicationResponse(saved))
}

func (h *InboxHandler) UpdateCommunicationStatus(c *fiber.Ctx) error {
	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	status, err := domain.ParseStatusFromString(req.Status)
	if err != nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	changed, err := h.service.UpdateStatus(c.UserContext(), id, status)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":      id,
		"status":  status.String(),
		"changed": changed,
	})
}

func (h *InboxHandler) RankClients(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	ranked, err := h.service.RankClients(c.UserContext(), limit)
	if err != nil {
		return err
	}

	resp := make([]rankedClientResponse, 0, len(ranked))
	for _, r := range ranked {
		resp = append(resp, rankedClientResponse{
			ID:               r.Client.ID,
			Name:             r.Client.Name,
			Email:            r.Client.Email,
			ImportanceRating: r.Client.ImportanceRating,
			Score:            r.Score,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": resp})
}

func (h *InboxHandler) AnnotateCommunication(c *fiber.Ctx) error {
	var req annotateCommunicationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	annotations := domain.Annotations{
		Category:  req.Category,
		Sentiment: req.Sentiment,
	}
	if req.Classification != nil {
		classification, err := domain.ParseClassificationFromString(*req.Classification)
		if err != nil {
			return err
		}
		annotations.Classification = &classification
	}

	updated, err := h.service.Annotate(c.UserContext(), strings.TrimSpace(c.Params("id")), annotations)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toCommunicationResponse(updated))
}

func (h *InboxHandler) ClientHistory(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	offset, err := parseNonNegative(c, "offset")
	if err != nil {
		return err
	}

	var channel *domain.Channel
	if raw := strings.TrimSpace(c.Query("channel")); raw != "" {
		parsed, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return err
		}
		channel = &parsed
	}

	history, err := h.service.ClientHistory(c.UserContext(), c.Params("id"), channel, limit, offset)
	if err != nil {
		return err
	}

	resp := make([]communicationResponse, 0, len(history))
	for i := range history {
		resp = append(resp, toCommunicationResponse(&history[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": resp})
}

func parseLimit(c *fiber.Ctx) (int, error) {
	return parseNonNegative(c, "limit")
}

func parseNonNegative(c *fiber.Ctx, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, key)
	}
	return value, nil
}

func requestToCommunication(req createCommunicationRequest) (*domain.Communication, error) {
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return nil, err
	}

	c := &domain.Communication{
		ClientID:      strings.TrimSpace(req.ClientID),
		Channel:       channel,
		Direction:     domain.DirectionInbound,
		Body:          req.Body,
		Transcription: req.Transcription,
		Category:      req.Category,
		Attachments:   req.Attachments,
		Sentiment:     req.Sentiment,
	}
	if req.OccurredAt != nil {
		c.OccurredAt = req.OccurredAt.UTC()
	}
	if req.Classification != nil && strings.TrimSpace(*req.Classification) != "" {
		classification, err := domain.ParseClassificationFromString(*req.Classification)
		if err != nil {
			return nil, err
		}
		c.Classification = &classification
	}

	return c, nil
}

func toCommunicationResponse(c *domain.Communication) communicationResponse {
	if c == nil {
		return communicationResponse{}
	}

	resp := communicationResponse{
		ID:            c.ID,
		ClientID:      c.ClientID,
		Channel:       c.Channel.String(),
		Direction:     c.Direction.String(),
		OccurredAt:    c.OccurredAt,
		Body:          c.Body,
		Transcription: c.Transcription,
		Category:      c.Category,
		Status:        c.Status.String(),
		Attachments:   c.Attachments,
		Sentiment:     c.Sentiment,
	}
	if c.Classification != nil {
		value := c.Classification.String()
		resp.Classification = &value
	}
	return resp
}

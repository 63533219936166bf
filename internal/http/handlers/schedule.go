package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/postforge-api/internal/logging"
	"github.com/jmylchreest/postforge-api/internal/models"
	"github.com/jmylchreest/postforge-api/internal/service"
)

// Scheduler accepts and manages scheduled items.
type Scheduler interface {
	Submit(ctx context.Context, ownerID string, in service.SubmitInput) (*models.ScheduledItem, error)
	Withdraw(ctx context.Context, ownerID, itemID string) error
	Status(ctx context.Context, ownerID, itemID string) (*service.ItemStatusView, error)
	List(ctx context.Context, ownerID string, status models.ItemStatus, limit int) ([]*models.ScheduledItem, error)
}

// ScheduleHandler handles scheduled item endpoints.
type ScheduleHandler struct {
	svc    Scheduler
	logger *slog.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(svc Scheduler, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{svc: svc, logger: logger}
}

// SubmitScheduleInput represents a new scheduled post.
type SubmitScheduleInput struct {
	Body struct {
		Text         string               `json:"text,omitempty" maxLength:"5000" doc:"Post text"`
		MediaRef     string               `json:"media_ref,omitempty" doc:"URL of the image or video to publish"`
		Hashtags     []string             `json:"hashtags,omitempty" maxItems:"30" doc:"Hashtags appended to the post"`
		ScheduledAt  time.Time            `json:"scheduled_at,omitempty" doc:"When to publish (RFC 3339). Omit to publish as soon as possible"`
		Destinations []models.Destination `json:"destinations" minItems:"1" doc:"Destinations to publish to (facebook, instagram, tiktok)"`
	}
}

// ScheduledItemOutput wraps a single scheduled item.
type ScheduledItemOutput struct {
	Body *models.ScheduledItem
}

// Submit handles POST /api/v1/schedule.
func (h *ScheduleHandler) Submit(ctx context.Context, input *SubmitScheduleInput) (*ScheduledItemOutput, error) {
	owner, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	item, err := h.svc.Submit(ctx, owner, service.SubmitInput{
		Text:         input.Body.Text,
		MediaRef:     input.Body.MediaRef,
		Hashtags:     input.Body.Hashtags,
		ScheduledAt:  input.Body.ScheduledAt,
		Destinations: input.Body.Destinations,
	})
	if err != nil {
		return nil, h.fail(ctx, "schedule submit failed", err)
	}
	return &ScheduledItemOutput{Body: item}, nil
}

// ListScheduleInput filters the owner's items.
type ListScheduleInput struct {
	Status string `query:"status" enum:"scheduled,dispatching,retrying,fully_published,partially_published,failed,withdrawn" doc:"Only return items in this status"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
}

// ListScheduleOutput represents the owner's items.
type ListScheduleOutput struct {
	Body struct {
		Items []*models.ScheduledItem `json:"items"`
	}
}

// List handles GET /api/v1/schedule.
func (h *ScheduleHandler) List(ctx context.Context, input *ListScheduleInput) (*ListScheduleOutput, error) {
	owner, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	items, err := h.svc.List(ctx, owner, models.ItemStatus(input.Status), input.Limit)
	if err != nil {
		return nil, h.fail(ctx, "schedule list failed", err)
	}
	out := &ListScheduleOutput{}
	out.Body.Items = items
	if out.Body.Items == nil {
		out.Body.Items = []*models.ScheduledItem{}
	}
	return out, nil
}

// ScheduleIDInput identifies one scheduled item.
type ScheduleIDInput struct {
	ID string `path:"id" doc:"Scheduled item ID"`
}

// Withdraw handles DELETE /api/v1/schedule/{id}.
func (h *ScheduleHandler) Withdraw(ctx context.Context, input *ScheduleIDInput) (*struct{}, error) {
	owner, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Withdraw(ctx, owner, input.ID); err != nil {
		return nil, h.fail(ctx, "schedule withdraw failed", err)
	}
	return nil, nil
}

// ScheduleStatusOutput is an item with per-destination dispatch state.
type ScheduleStatusOutput struct {
	Body struct {
		Item         *models.ScheduledItem        `json:"item"`
		Destinations []service.DestinationOutcome `json:"destinations"`
	}
}

// Status handles GET /api/v1/schedule/{id}/status.
func (h *ScheduleHandler) Status(ctx context.Context, input *ScheduleIDInput) (*ScheduleStatusOutput, error) {
	owner, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	view, err := h.svc.Status(ctx, owner, input.ID)
	if err != nil {
		return nil, h.fail(ctx, "schedule status failed", err)
	}
	out := &ScheduleStatusOutput{}
	out.Body.Item = view.Item
	out.Body.Destinations = view.Destinations
	return out, nil
}

func (h *ScheduleHandler) fail(ctx context.Context, msg string, err error) error {
	httpErr := ToHTTPError(err)
	if statusOfErr(httpErr) >= 500 {
		logging.FromContext(ctx, h.logger).Error(msg, "error", err)
	}
	return httpErr
}

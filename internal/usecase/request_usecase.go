package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	"sharebox/pkg/errors"
	"sharebox/pkg/logger"
)

// RequestStatusEvent is pushed to the receiver when the donor moves a request.
type RequestStatusEvent struct {
	Type      string                 `json:"type"`
	Data      RequestStatusEventData `json:"data"`
	Timestamp string                 `json:"timestamp"`
}

type RequestStatusEventData struct {
	RequestID string               `json:"request_id"`
	ItemName  string               `json:"item_name"`
	Previous  entity.RequestStatus `json:"previous"`
	Status    entity.RequestStatus `json:"status"`
}

const EventRequestStatus = "request_status"

type RequestUseCase struct {
	convRepo repository.ConversationRepository
	notifier Notifier
}

func NewRequestUseCase(convRepo repository.ConversationRepository, notifier Notifier) *RequestUseCase {
	return &RequestUseCase{
		convRepo: convRepo,
		notifier: notifier,
	}
}

// UpdateStatus moves a request along pending -> accepted|declined and
// accepted -> completed. Accepting opens the chat for both parties and
// assigns the listed item or fulfils the demand; completing archives the chat
// and closes the item. Setting the current status again is a no-op.
func (uc *RequestUseCase) UpdateStatus(ctx context.Context, userID, requestID string, next entity.RequestStatus) (*entity.Conversation, error) {
	if !next.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("Unknown request status %q", next), nil)
	}
	if requestID == "" {
		return nil, errors.BadRequest("Request id is required", nil)
	}

	request, err := uc.convRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.DonorID != userID {
		return nil, errors.Forbidden("Only the donor can change the status of this request", nil)
	}
	if request.Status == next {
		return request, nil
	}
	if !request.Status.CanTransition(next) {
		return nil, errors.Conflict(fmt.Sprintf("Cannot move request from %s to %s", request.Status, next))
	}

	// The check above is advisory; the transaction re-reads the status so a
	// concurrent decision loses with Conflict instead of overwriting.
	previous := request.Status
	updated, err := uc.convRepo.TransitionStatus(ctx, requestID, previous, next)
	if err != nil {
		return nil, err
	}
	logger.Info("Request %s moved from %s to %s by donor %s", requestID, previous, next, userID)

	uc.notify(updated, previous)
	return updated, nil
}

func (uc *RequestUseCase) notify(request *entity.Conversation, previous entity.RequestStatus) {
	if uc.notifier == nil || request.ReceiverID == "" {
		return
	}

	payload, err := json.Marshal(RequestStatusEvent{
		Type: EventRequestStatus,
		Data: RequestStatusEventData{
			RequestID: request.ID,
			ItemName:  request.ItemName,
			Previous:  previous,
			Status:    request.Status,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("Failed to encode request status event for %s: %v", request.ID, err)
		return
	}
	uc.notifier.SendToUser(request.ReceiverID, payload)
}

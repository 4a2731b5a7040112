package repository

import "sharebox/internal/domain/entity"

const (
	ItemsCollection   = "items"
	DemandsCollection = "recent_demands"
)

// Listing statuses written when a request changes hands.
const (
	ItemAssigned    = "assigned"
	ItemCompleted   = "completed"
	DemandFulfilled = "fulfilled"
)

// ListingUpdate is the patch a status transition makes to the listing the
// request points at. Accepting assigns an item to the receiver or marks a
// demand fulfilled by the donor; completing closes an item. Requests without
// an item id have no listing to touch.
func ListingUpdate(request *entity.Conversation, next entity.RequestStatus) (FieldUpdate, bool) {
	if request.ItemID == "" {
		return FieldUpdate{}, false
	}

	switch {
	case next == entity.StatusAccepted && request.Fulfillment():
		return FieldUpdate{
			CollectionPath: DemandsCollection,
			DocID:          request.ItemID,
			Patch: map[string]interface{}{
				"status":          DemandFulfilled,
				"fulfilledBy":     request.DonorID,
				"fulfilledByName": request.DonorName,
			},
		}, true
	case next == entity.StatusAccepted:
		return FieldUpdate{
			CollectionPath: ItemsCollection,
			DocID:          request.ItemID,
			Patch: map[string]interface{}{
				"status":       ItemAssigned,
				"receiverId":   request.ReceiverID,
				"receiverName": request.ReceiverName,
			},
		}, true
	case next == entity.StatusCompleted && !request.Fulfillment():
		return FieldUpdate{
			CollectionPath: ItemsCollection,
			DocID:          request.ItemID,
			Patch:          map[string]interface{}{"status": ItemCompleted},
		}, true
	}
	return FieldUpdate{}, false
}

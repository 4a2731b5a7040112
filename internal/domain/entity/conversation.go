package entity

import "time"

// RequestStatus is the lifecycle state of a donation request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusDeclined  RequestStatus = "declined"
	StatusCompleted RequestStatus = "completed"
)

// Firestore field names used in queries against the requests collection.
const (
	FieldDonorID    = "donorId"
	FieldReceiverID = "receiverId"
	FieldStatus     = "status"
	FieldCreatedAt  = "createdAt"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCompleted:
		return true
	}
	return false
}

// CanTransition reports whether a request may move from s to next.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusDeclined
	case StatusAccepted:
		return next == StatusCompleted
	}
	return false
}

// RequestTypeFulfillment marks a donor's offer to fill a community demand.
// Any other type is a request for a listed item.
const RequestTypeFulfillment = "fulfillment"

// PartySide identifies which of the two request parties a query matches on.
type PartySide int

const (
	SideDonor PartySide = iota
	SideReceiver
)

var PartySides = [...]PartySide{SideDonor, SideReceiver}

func (p PartySide) Field() string {
	if p == SideReceiver {
		return FieldReceiverID
	}
	return FieldDonorID
}

func (p PartySide) String() string {
	if p == SideReceiver {
		return "receiver"
	}
	return "donor"
}

// Conversation is a request document. Once accepted it doubles as the chat
// thread between donor and receiver; messages live in its sub-collection.
type Conversation struct {
	ID           string        `json:"id" firestore:"-"`
	ItemID       string        `json:"item_id,omitempty" firestore:"itemId,omitempty"`
	ItemName     string        `json:"item_name" firestore:"itemName"`
	Type         string        `json:"type,omitempty" firestore:"type,omitempty"`
	DonorID      string        `json:"donor_id" firestore:"donorId"`
	DonorName    string        `json:"donor_name" firestore:"donorName"`
	ReceiverID   string        `json:"receiver_id" firestore:"receiverId"`
	ReceiverName string        `json:"receiver_name" firestore:"receiverName"`
	Message      string        `json:"message,omitempty" firestore:"message,omitempty"`
	Status       RequestStatus `json:"status" firestore:"status"`
	CreatedAt    time.Time     `json:"created_at" firestore:"createdAt"`
}

func (c *Conversation) HasParty(userID string) bool {
	return userID != "" && (c.DonorID == userID || c.ReceiverID == userID)
}

// OtherPartyID returns the participant that is not userID.
func (c *Conversation) OtherPartyID(userID string) string {
	if c.DonorID == userID {
		return c.ReceiverID
	}
	return c.DonorID
}

// OtherPartyName is the label shown in the viewer's chat list.
func (c *Conversation) OtherPartyName(userID string) string {
	if c.DonorID == userID {
		if c.ReceiverName == "" {
			return "Unknown Receiver"
		}
		return c.ReceiverName
	}
	if c.DonorName == "" {
		return "Unknown Donor"
	}
	return c.DonorName
}

// Fulfillment reports whether the request answers a demand instead of an item.
func (c *Conversation) Fulfillment() bool {
	return c.Type == RequestTypeFulfillment
}

// Archived conversations are read-only.
func (c *Conversation) Archived() bool {
	return c.Status == StatusCompleted
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewingStatus is the status of a request to view a listing
type ViewingStatus string

const (
	ViewingStatusPending  ViewingStatus = "pending"
	ViewingStatusAccepted ViewingStatus = "accepted"
	ViewingStatusRejected ViewingStatus = "rejected"
)

// OwnerViewingTransitions is what an owner may do to a viewing request.
var OwnerViewingTransitions = map[ViewingStatus][]ViewingStatus{
	ViewingStatusPending:  {ViewingStatusAccepted, ViewingStatusRejected},
	ViewingStatusAccepted: {ViewingStatusRejected},
}

// ViewingRequest asks an owner to show a listing before booking
type ViewingRequest struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	ListingID uuid.UUID     `json:"listing_id" db:"listing_id"`
	RenterID  uuid.UUID     `json:"renter_id" db:"renter_id"`
	OwnerID   uuid.UUID     `json:"owner_id" db:"owner_id"`
	Status    ViewingStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// CreateViewingRequest is the body of POST /viewing-requests
type CreateViewingRequest struct {
	ListingID string `json:"listing_id" binding:"required,uuid"`
}

// UpdateViewingStatusRequest is the body of the owner response endpoint
type UpdateViewingStatusRequest struct {
	Status ViewingStatus `json:"status" binding:"required"`
}

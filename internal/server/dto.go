package server

import (
	"encoding/json"

	"giftline/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username" minLength:"1"`
	Password string `json:"password" minLength:"1"`
}

type CreateStaffRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type CreateCodeRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type UpdateCodeRequest struct {
	Description string `json:"description"`
}

type RuleRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type PreferenceRequest struct {
	GiftID int64 `json:"gift_id"`
	Rank   int   `json:"rank"`
}

type CreateRecipientRequest struct {
	Name           string              `json:"name"`
	Address        string              `json:"address"`
	RegionID       int64               `json:"region_id"`
	Eligibility    string              `json:"eligibility,omitempty"`
	DeliveryStatus string              `json:"delivery_status,omitempty"`
	Note           string              `json:"note,omitempty"`
	Preferences    []PreferenceRequest `json:"preferences,omitempty"`
}

type UpdateRecipientRequest struct {
	Name        *string `json:"name,omitempty"`
	Address     *string `json:"address,omitempty"`
	RegionID    *int64  `json:"region_id,omitempty"`
	Eligibility *string `json:"eligibility,omitempty"`
	Note        *string `json:"note,omitempty"`
}

type ProduceRequest struct {
	GiftID           int64 `json:"gift_id"`
	ProducedQuantity int   `json:"produced_quantity" minimum:"1" maximum:"1000000"`
}

type AdjustMaterialRequest struct {
	Delta  int    `json:"delta" minimum:"-1000000" maximum:"1000000"`
	Reason string `json:"reason,omitempty"`
}

type UpdateFleetStatusRequest struct {
	Status  string `json:"status" enum:"READY,RESTING,ONDELIVERY"`
	Stamina int    `json:"stamina"`
	Magic   int    `json:"magic"`
}

type HealthLogRequest struct {
	Note string `json:"note"`
}

type CreateGroupRequest struct {
	Name        string `json:"name"`
	FleetUnitID int64  `json:"fleet_unit_id"`
}

type AddGroupItemRequest struct {
	RecipientID int64 `json:"recipient_id"`
	GiftID      int64 `json:"gift_id"`
}

// Response payloads

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at" format:"date-time"`
	Staff     domain.Staff `json:"staff"`
}

type WhoAmIResponse struct {
	Staff       domain.Staff `json:"staff"`
	Source      string       `json:"source" enum:"jwt,staff_header"`
	Permissions []string     `json:"permissions"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedRecipients struct {
	Items  []domain.Recipient `json:"items"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

type paginatedDeliveries struct {
	Items  []domain.DeliveryRecord `json:"items"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

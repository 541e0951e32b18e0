package domain

// Fleet unit statuses.
const (
	UnitReady      = "READY"
	UnitResting    = "RESTING"
	UnitOnDelivery = "ONDELIVERY"
)

// Delivery group statuses. PENDING moves to DONE or FAILED, never back.
const (
	GroupPending = "PENDING"
	GroupDone    = "DONE"
	GroupFailed  = "FAILED"
)

// Seeded eligibility and delivery status codes the fulfillment workflow
// depends on.
const (
	EligibilityNice    = "NICE"
	EligibilityNaughty = "NAUGHTY"
	EligibilityPending = "PENDING"

	DeliveryPending   = "PENDING"
	DeliveryPacked    = "PACKED"
	DeliveryReady     = "READY"
	DeliveryDelivered = "DELIVERED"
)

// Defaults applied when a recipient is created without explicit codes.
const (
	DefaultEligibility    = EligibilityPending
	DefaultDeliveryStatus = DeliveryPending
)

// Resource thresholds and per-run costs for fleet units.
const (
	MaxResource         = 100
	AssignMinStamina    = 30
	FulfillMinStamina   = 30
	FulfillMinMagic     = 10
	RestingBelow        = 30
	DeliveryStaminaCost = 10
	DeliveryMagicCost   = 10
)

type Gift struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type Material struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type RecipeLine struct {
	GiftID       int64  `json:"gift_id"`
	MaterialID   int64  `json:"material_id"`
	MaterialName string `json:"material_name"`
	Quantity     int    `json:"quantity"`
}

type ProductionJob struct {
	ID        int64             `json:"id"`
	GiftID    int64             `json:"gift_id"`
	GiftName  string            `json:"gift_name,omitempty"`
	Quantity  int               `json:"quantity"`
	StaffID   *int64            `json:"staff_id,omitempty"`
	CreatedAt string            `json:"created_at" format:"date-time"`
	Usage     []ProductionUsage `json:"usage"`
}

type ProductionUsage struct {
	MaterialID   int64  `json:"material_id"`
	MaterialName string `json:"material_name,omitempty"`
	QuantityUsed int    `json:"quantity_used"`
}

type FleetUnit struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Stamina int    `json:"stamina"`
	Magic   int    `json:"magic"`
	Status  string `json:"status" enum:"READY,RESTING,ONDELIVERY"`
}

type HealthLog struct {
	ID        int64  `json:"id"`
	UnitID    int64  `json:"unit_id"`
	Note      string `json:"note"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Region struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// StatusCode is a row of either code table.
type StatusCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type Recipient struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	Address        string       `json:"address"`
	RegionID       int64        `json:"region_id"`
	Eligibility    string       `json:"eligibility"`
	DeliveryStatus string       `json:"delivery_status"`
	Note           string       `json:"note,omitempty"`
	Preferences    []Preference `json:"preferences,omitempty"`
}

type Preference struct {
	ID          int64  `json:"id"`
	RecipientID int64  `json:"recipient_id"`
	GiftID      int64  `json:"gift_id"`
	GiftName    string `json:"gift_name,omitempty"`
	Rank        int    `json:"rank"`
}

type DeliveryGroup struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	FleetUnitID   int64       `json:"fleet_unit_id"`
	CreatedBy     *int64      `json:"created_by,omitempty"`
	Status        string      `json:"status" enum:"PENDING,DONE,FAILED"`
	FailureReason string      `json:"failure_reason,omitempty"`
	ItemCount     int         `json:"item_count"`
	CreatedAt     string      `json:"created_at" format:"date-time"`
	UpdatedAt     string      `json:"updated_at" format:"date-time"`
	Items         []GroupItem `json:"items,omitempty"`
}

type GroupItem struct {
	ID            int64  `json:"id"`
	GroupID       int64  `json:"group_id"`
	RecipientID   int64  `json:"recipient_id"`
	RecipientName string `json:"recipient_name,omitempty"`
	GiftID        int64  `json:"gift_id"`
	GiftName      string `json:"gift_name,omitempty"`
	Active        bool   `json:"active"`
}

type DeliveryRecord struct {
	ID            int64  `json:"id"`
	RecipientID   int64  `json:"recipient_id"`
	RecipientName string `json:"recipient_name,omitempty"`
	GiftID        int64  `json:"gift_id"`
	GiftName      string `json:"gift_name,omitempty"`
	GroupID       *int64 `json:"group_id,omitempty"`
	StaffID       *int64 `json:"staff_id,omitempty"`
	DeliveredAt   string `json:"delivered_at" format:"date-time"`
}

// Staff never carries the password hash outside the repo layer.
type Staff struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Assignment is a read-only gift suggestion for one recipient.
type Assignment struct {
	RecipientID   int64  `json:"recipient_id"`
	RecipientName string `json:"recipient_name"`
	RegionID      int64  `json:"region_id"`
	GiftID        int64  `json:"gift_id"`
	GiftName      string `json:"gift_name"`
	Rank          int    `json:"rank"`
}

type GiftDemand struct {
	GiftID   int64  `json:"gift_id"`
	GiftName string `json:"gift_name"`
	Total    int    `json:"total"`
	Rank1    int    `json:"rank1"`
	Rank2    int    `json:"rank2"`
	Rank3    int    `json:"rank3"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// Rule is free-text guidance used when setting eligibility by hand.
type Rule struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   *int64 `json:"created_by,omitempty"`
	UpdatedBy   *int64 `json:"updated_by,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

package domain

// Permission identifiers granted to roles through configuration.
const (
	PermRecipientsRead   = "recipients.read"
	PermRecipientsWrite  = "recipients.write"
	PermCodesRead        = "codes.read"
	PermCodesWrite       = "codes.write"
	PermRegionsRead      = "regions.read"
	PermInventoryRead    = "inventory.read"
	PermInventoryProduce = "inventory.produce"
	PermManualProduce    = "inventory.produce.manual"
	PermInventoryAdjust  = "inventory.adjust"
	PermProductionRead   = "production.read"
	PermFleetRead        = "fleet.read"
	PermFleetWrite       = "fleet.write"
	PermFleetHealth      = "fleet.health"
	PermTargetsRead      = "targets.read"
	PermGroupsRead       = "groups.read"
	PermGroupsWrite      = "groups.write"
	PermGroupsFulfill    = "groups.fulfill"
	PermDeliveriesRead   = "deliveries.read"
	PermStatsRead        = "stats.read"
	PermStaffRead        = "staff.read"
	PermStaffWrite       = "staff.write"
	PermEventsRead       = "events.read"

	// PermAll grants every permission.
	PermAll = "*"
)

// AllPermissions lists every permission the API checks.
var AllPermissions = []string{
	PermRecipientsRead, PermRecipientsWrite,
	PermCodesRead, PermCodesWrite,
	PermRegionsRead,
	PermInventoryRead, PermInventoryProduce, PermManualProduce, PermInventoryAdjust,
	PermProductionRead,
	PermFleetRead, PermFleetWrite, PermFleetHealth,
	PermTargetsRead,
	PermGroupsRead, PermGroupsWrite, PermGroupsFulfill,
	PermDeliveriesRead,
	PermStatsRead,
	PermStaffRead, PermStaffWrite,
	PermEventsRead,
}

// KnownPermission reports whether p may appear in a role grant.
func KnownPermission(p string) bool {
	if p == PermAll {
		return true
	}
	for _, known := range AllPermissions {
		if known == p {
			return true
		}
	}
	return false
}

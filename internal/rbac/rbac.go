package rbac

import "github.com/paybyt/escrowd/internal/models"

// Role constants. Buyer and seller are derived per escrow from the caller's
// id; mediator and operator come from the token.
const (
	RoleBuyer    = models.RoleBuyer
	RoleSeller   = models.RoleSeller
	RoleMediator = models.RoleMediator
	RoleOperator = "operator"
)

// Permission constants
const (
	PermView             = "view"
	PermCheckFunding     = "check_funding"
	PermConfirmDelivery  = "confirm_delivery"
	PermRegisterShipment = "register_shipment"
	PermVerifyDelivery   = "verify_delivery"
	PermRelease          = "release"
	PermRefund           = "refund"
	PermOpenDispute      = "open_dispute"
	PermSubmitEvidence   = "submit_evidence"
	PermResolveDispute   = "resolve_dispute"
	PermClearHalt        = "clear_halt"
	PermManageFees       = "manage_fees"
	PermViewLedger       = "view_ledger"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleBuyer: {
		PermView, PermCheckFunding, PermConfirmDelivery, PermVerifyDelivery, PermRelease,
		PermOpenDispute, PermSubmitEvidence,
	},
	RoleSeller: {
		PermView, PermCheckFunding, PermRegisterShipment, PermVerifyDelivery,
		PermRefund, PermOpenDispute, PermSubmitEvidence,
		// Seller CANNOT: PermConfirmDelivery, PermRelease
	},
	RoleMediator: {
		PermView, PermCheckFunding, PermVerifyDelivery, PermRefund, PermSubmitEvidence, PermResolveDispute,
	},
	RoleOperator: {
		PermView, PermCheckFunding, PermClearHalt, PermManageFees, PermViewLedger,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// RolesFor returns every role userID holds on e. staffRole is the role
// carried in the caller's token, if any.
func RolesFor(e *models.Escrow, userID, staffRole string) []string {
	var roles []string
	if userID != "" && userID == e.BuyerID {
		roles = append(roles, RoleBuyer)
	}
	if userID != "" && userID == e.SellerID {
		roles = append(roles, RoleSeller)
	}
	if staffRole == RoleMediator || staffRole == RoleOperator {
		roles = append(roles, staffRole)
	}
	return roles
}

// Can reports whether any of roles grants permission.
func Can(roles []string, permission string) bool {
	for _, r := range roles {
		if HasPermission(r, permission) {
			return true
		}
	}
	return false
}

// IsFinancialOperation reports whether permission moves escrowed funds.
func IsFinancialOperation(permission string) bool {
	return permission == PermRelease || permission == PermRefund || permission == PermResolveDispute
}

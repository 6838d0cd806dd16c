// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic  SecurityLevel = iota // No authentication
	SecurityService                      // Service token required (collaborator callbacks)
	SecurityAccess                       // User access token required
)

// EndpointSecurityConfig maps HTTP route names to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Operational - Public
	"Health":  SecurityPublic,
	"Metrics": SecurityPublic,

	// Pool queries - Public
	"ListPools":         SecurityPublic,
	"GetPool":           SecurityPublic,
	"GetPoolLedger":     SecurityPublic,
	"GetPoolShareTable": SecurityPublic,

	// Pool lifecycle - Access Protected
	"CreatePool":    SecurityAccess,
	"CancelPool":    SecurityAccess,
	"StartMatching": SecurityAccess,
	"ConfirmTerms":  SecurityAccess,
	"FinalizeTerms": SecurityAccess,
	"RejectTerms":   SecurityAccess,

	// Participants
	"ListParticipants":    SecurityPublic,
	"RequestJoin":         SecurityAccess,
	"UpdateContribution":  SecurityAccess,
	"ApproveParticipant":  SecurityAccess,
	"RejectParticipant":   SecurityAccess,
	"WithdrawParticipant": SecurityAccess,

	// Notifications - Access Protected
	"ListNotifications":    SecurityAccess,
	"MarkNotificationRead": SecurityAccess,

	// Collaborator callbacks - Service Protected
	"MatchResult":     SecurityService,
	"ExecutionResult": SecurityService,
}

// GetSecurityLevel returns the security level for a given route name
func GetSecurityLevel(route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[route]; exists {
		return level
	}
	// Default to highest user security for unknown routes
	return SecurityAccess
}

// Package schema holds the record layouts of the dashboard contracts.
package schema

import (
	"sort"
	"strings"

	"wallet_session/internal/domain/entity"
)

var (
	SavingsCircle = entity.RecordSchema{
		Name:         "savings_circle",
		CountMethod:  "circleCount",
		GetterMethod: "getCircle",
		Fields: []entity.FieldSpec{
			{Name: "id", Kind: entity.FieldUint},
			{Name: "name", Kind: entity.FieldString},
			{Name: "creator", Kind: entity.FieldAddress},
			{Name: "contributionAmount", Kind: entity.FieldAmount},
			{Name: "cycleDuration", Kind: entity.FieldUint},
			{Name: "maxMembers", Kind: entity.FieldUint},
			{Name: "memberCount", Kind: entity.FieldUint},
			{Name: "currentRound", Kind: entity.FieldUint},
			{Name: "createdAt", Kind: entity.FieldTimestamp},
			{Name: "active", Kind: entity.FieldBool},
		},
	}

	Grant = entity.RecordSchema{
		Name:         "grant",
		CountMethod:  "grantCount",
		GetterMethod: "getGrant",
		Fields: []entity.FieldSpec{
			{Name: "id", Kind: entity.FieldUint},
			{Name: "title", Kind: entity.FieldString},
			{Name: "description", Kind: entity.FieldString},
			{Name: "applicant", Kind: entity.FieldAddress},
			{Name: "requestedAmount", Kind: entity.FieldAmount},
			{Name: "fundedAmount", Kind: entity.FieldAmount},
			{Name: "status", Kind: entity.FieldEnum, Labels: []string{"Pending", "Approved", "Rejected", "Funded"}},
			{Name: "createdAt", Kind: entity.FieldTimestamp},
		},
	}

	JobBounty = entity.RecordSchema{
		Name:         "job_bounty",
		CountMethod:  "bountyCount",
		GetterMethod: "getBounty",
		Fields: []entity.FieldSpec{
			{Name: "id", Kind: entity.FieldUint},
			{Name: "title", Kind: entity.FieldString},
			{Name: "poster", Kind: entity.FieldAddress},
			{Name: "reward", Kind: entity.FieldAmount},
			{Name: "deadline", Kind: entity.FieldTimestamp},
			{Name: "assignee", Kind: entity.FieldAddress},
			{Name: "status", Kind: entity.FieldEnum, Labels: []string{"Open", "Assigned", "Submitted", "Completed", "Cancelled"}},
			{Name: "createdAt", Kind: entity.FieldTimestamp},
		},
	}

	MedicalRecord = entity.RecordSchema{
		Name:         "medical_record",
		CountMethod:  "recordCount",
		GetterMethod: "getRecord",
		Fields: []entity.FieldSpec{
			{Name: "id", Kind: entity.FieldUint},
			{Name: "patient", Kind: entity.FieldAddress},
			{Name: "provider", Kind: entity.FieldAddress},
			{Name: "contentHash", Kind: entity.FieldString},
			{Name: "recordType", Kind: entity.FieldString},
			{Name: "createdAt", Kind: entity.FieldTimestamp},
			{Name: "shared", Kind: entity.FieldBool},
		},
	}

	EmergencyAlert = entity.RecordSchema{
		Name:         "emergency_alert",
		CountMethod:  "alertCount",
		GetterMethod: "getAlert",
		Fields: []entity.FieldSpec{
			{Name: "id", Kind: entity.FieldUint},
			{Name: "reporter", Kind: entity.FieldAddress},
			{Name: "alertType", Kind: entity.FieldString},
			{Name: "location", Kind: entity.FieldString},
			{Name: "severity", Kind: entity.FieldEnum, Labels: []string{"Low", "Medium", "High", "Critical"}},
			{Name: "createdAt", Kind: entity.FieldTimestamp},
			{Name: "resolved", Kind: entity.FieldBool},
		},
	}

	HealthCenter = entity.RecordSchema{
		Name:         "health_center",
		CountMethod:  "centerCount",
		GetterMethod: "getCenter",
		Fields: []entity.FieldSpec{
			{Name: "id", Kind: entity.FieldUint},
			{Name: "name", Kind: entity.FieldString},
			{Name: "location", Kind: entity.FieldString},
			{Name: "contact", Kind: entity.FieldString},
			{Name: "operator", Kind: entity.FieldAddress},
			{Name: "verified", Kind: entity.FieldBool},
			{Name: "registeredAt", Kind: entity.FieldTimestamp},
		},
	}
)

var builtin = map[string]entity.RecordSchema{
	SavingsCircle.Name:  SavingsCircle,
	Grant.Name:          Grant,
	JobBounty.Name:      JobBounty,
	MedicalRecord.Name:  MedicalRecord,
	EmergencyAlert.Name: EmergencyAlert,
	HealthCenter.Name:   HealthCenter,
}

// Lookup returns a built-in schema by name (case-insensitive).
func Lookup(name string) (entity.RecordSchema, bool) {
	s, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Names lists the built-in schema names.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

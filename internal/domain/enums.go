package domain

import (
	"fmt"
	"strings"
)

// StatusKind tags a status with its billing meaning, independent of its code.
type StatusKind string

const (
	KindDefault StatusKind = "DEFAULT"
	KindInvoice StatusKind = "INVOICE"
	KindPaid    StatusKind = "PAID"
)

func ParseStatusKind(s string) (StatusKind, error) {
	switch k := StatusKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case "":
		return KindDefault, nil
	case KindDefault, KindInvoice, KindPaid:
		return k, nil
	default:
		return "", fmt.Errorf("invalid status kind %q", s)
	}
}

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleLawyer Role = "LAWYER"
	RoleClient Role = "CLIENT"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleLawyer, RoleClient:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q", s)
	}
}

// IsStaff reports whether the role belongs to an AdminUser rather than a client.
func (r Role) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleLawyer:
		return true
	case RoleClient:
		return false
	default:
		return false
	}
}

type EventType string

const (
	EventMessage    EventType = "MESSAGE"
	EventAttachment EventType = "ATTACHMENT"
	EventStatus     EventType = "STATUS"
	EventSLAOverdue EventType = "SLA_OVERDUE"
	EventAssignment EventType = "ASSIGNMENT"
	EventInvoice    EventType = "INVOICE"
)

// DefaultTerminalStatuses is used when no status is flagged terminal.
var DefaultTerminalStatuses = []string{"RESOLVED", "CLOSED", "REJECTED"}

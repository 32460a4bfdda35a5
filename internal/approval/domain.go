// Package approval runs configurable multi-step approval workflows against
// any document exposing the Approvable capability.
package approval

import (
	"time"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// ApproverType selects how a step resolves its approver.
type ApproverType string

const (
	ApproverRole           ApproverType = "ROLE"
	ApproverUser           ApproverType = "USER"
	ApproverDepartmentHead ApproverType = "DEPARTMENT_HEAD"
)

// Status of an approval row.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Workflow is an ordered list of steps for one document kind.
type Workflow struct {
	ID           int64
	Code         string
	Name         string
	DocumentKind shared.DocumentKind
	Active       bool
	Steps        []Step
}

// Step is one gate of a workflow.
type Step struct {
	ID             int64
	WorkflowID     int64
	Sequence       int
	Name           string
	ApproverType   ApproverType
	ApproverRole   string
	ApproverUserID *int64
	Condition      *Condition
}

// Approval is the per-document instance of a step. Exactly one of
// AssignedToUserID and AssignedToRole is set. Round numbers the Initiate
// call that created it, starting at 1 for each document.
type Approval struct {
	ID               int64
	WorkflowID       int64
	StepID           int64
	Round            int
	StepName         string
	Document         shared.DocumentRef
	Status           Status
	AssignedToUserID *int64
	AssignedToRole   *string
	RequestedBy      *int64
	ActedBy          *int64
	ActedAt          *time.Time
	Note             string
	CreatedAt        time.Time
}

// Approvable is implemented by documents that can run a workflow.
type Approvable interface {
	ApprovalRef() shared.DocumentRef
	// ApprovalField reads a named field for condition evaluation.
	ApprovalField(name string) (any, bool)
}

// Numbered is optionally implemented by Approvables to label notifications.
type Numbered interface {
	ApprovalNumber() string
}

// Requested is optionally implemented by Approvables to address the
// approved and rejected notifications.
type Requested interface {
	ApprovalRequester() int64
}

// DepartmentField is read to resolve DEPARTMENT_HEAD approvers.
const DepartmentField = "department_id"

// Document is a map backed Approvable.
type Document struct {
	Ref         shared.DocumentRef
	Number      string
	RequestedBy int64
	Fields      map[string]any
}

func (d Document) ApprovalRef() shared.DocumentRef { return d.Ref }

func (d Document) ApprovalField(name string) (any, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

func (d Document) ApprovalNumber() string { return d.Number }

func (d Document) ApprovalRequester() int64 { return d.RequestedBy }

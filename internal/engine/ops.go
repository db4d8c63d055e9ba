package engine

import (
	"context"

	"github.com/roach88/hera/internal/ir"
)

// Action names the operation a request performs.
type Action string

const (
	ActionCreate           Action = "CREATE"
	ActionRead             Action = "READ"
	ActionUpdate           Action = "UPDATE"
	ActionDeactivate       Action = "DEACTIVATE"
	ActionSupersede        Action = "SUPERSEDE"
	ActionTransitionStatus Action = "TRANSITION_STATUS"
	ActionAppendLine       Action = "APPEND_LINE"
	ActionTransition       Action = "TRANSITION"
	ActionReverse          Action = "REVERSE"
	ActionList             Action = "LIST"
)

// EntityRequest is the envelope for entity operations.
type EntityRequest struct {
	Caller `yaml:",inline"`

	Action Action        `json:"action" yaml:"action" validate:"required,oneof=CREATE READ UPDATE DEACTIVATE"`
	ID     string        `json:"id,omitempty" yaml:"id,omitempty" validate:"required_if=Action DEACTIVATE"`
	Entity *EntityInput  `json:"entity,omitempty" yaml:"entity,omitempty" validate:"required_if=Action CREATE"`
	Patch  *EntityPatch  `json:"patch,omitempty" yaml:"patch,omitempty" validate:"required_if=Action UPDATE"`
	Filter *EntityFilter `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// EntityResponse carries the outcome of an EntityRequest. Error is set
// exactly when Success is false.
type EntityResponse struct {
	Success  bool        `json:"success"`
	ID       string      `json:"id,omitempty"`
	Entity   *ir.Entity  `json:"entity,omitempty"`
	Entities []ir.Entity `json:"entities,omitempty"`
	Error    *Error      `json:"error,omitempty"`
}

// EntityOp dispatches an entity request. READ with an ID reads one
// entity; without one it applies Filter.
func (e *Engine) EntityOp(ctx context.Context, req EntityRequest) EntityResponse {
	if err := e.checkStruct(req); err != nil {
		return EntityResponse{Error: AsError(err)}
	}

	var (
		ent ir.Entity
		err error
	)
	switch req.Action {
	case ActionCreate:
		ent, err = e.CreateEntity(ctx, req.Caller, *req.Entity)
	case ActionUpdate:
		ent, err = e.UpdateEntity(ctx, req.Caller, *req.Patch)
	case ActionDeactivate:
		ent, err = e.DeactivateEntity(ctx, req.Caller, req.ID)
	case ActionRead:
		if req.ID == "" {
			var f EntityFilter
			if req.Filter != nil {
				f = *req.Filter
			}
			ents, err := e.ReadEntities(ctx, req.Caller, f)
			if err != nil {
				return EntityResponse{Error: AsError(err)}
			}
			return EntityResponse{Success: true, Entities: ents}
		}
		ent, err = e.GetEntity(ctx, req.Caller, req.ID)
	}
	if err != nil {
		return EntityResponse{Error: AsError(err)}
	}
	return EntityResponse{Success: true, ID: ent.ID, Entity: &ent}
}

// RelationshipRequest is the envelope for relationship operations.
type RelationshipRequest struct {
	Caller `yaml:",inline"`

	Action       Action              `json:"action" yaml:"action" validate:"required,oneof=CREATE READ DEACTIVATE SUPERSEDE TRANSITION_STATUS"`
	ID           string              `json:"id,omitempty" yaml:"id,omitempty"`
	Relationship *RelationshipInput  `json:"relationship,omitempty" yaml:"relationship,omitempty"`
	Status       *StatusInput        `json:"status,omitempty" yaml:"status,omitempty" validate:"required_if=Action TRANSITION_STATUS"`
	Filter       *RelationshipFilter `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// RelationshipResponse carries the outcome of a RelationshipRequest.
type RelationshipResponse struct {
	Success       bool              `json:"success"`
	ID            string            `json:"id,omitempty"`
	Relationship  *ir.Relationship  `json:"relationship,omitempty"`
	Relationships []ir.Relationship `json:"relationships,omitempty"`
	Error         *Error            `json:"error,omitempty"`
}

// RelationshipOp dispatches a relationship request.
func (e *Engine) RelationshipOp(ctx context.Context, req RelationshipRequest) RelationshipResponse {
	if err := e.checkStruct(req); err != nil {
		return RelationshipResponse{Error: AsError(err)}
	}
	needID := req.Action == ActionDeactivate || req.Action == ActionSupersede
	if needID && req.ID == "" {
		return RelationshipResponse{Error: validationError(CodeInvalidRequest, "%s requires id", req.Action)}
	}
	needInput := req.Action == ActionCreate || req.Action == ActionSupersede
	if needInput && req.Relationship == nil {
		return RelationshipResponse{Error: validationError(CodeInvalidRequest, "%s requires relationship", req.Action)}
	}

	var (
		rel ir.Relationship
		err error
	)
	switch req.Action {
	case ActionCreate:
		rel, err = e.CreateRelationship(ctx, req.Caller, *req.Relationship)
	case ActionDeactivate:
		rel, err = e.DeactivateRelationship(ctx, req.Caller, req.ID)
	case ActionSupersede:
		rel, err = e.SupersedeRelationship(ctx, req.Caller, req.ID, *req.Relationship)
	case ActionTransitionStatus:
		rel, err = e.TransitionStatus(ctx, req.Caller, *req.Status)
	case ActionRead:
		if req.ID == "" {
			var f RelationshipFilter
			if req.Filter != nil {
				f = *req.Filter
			}
			rels, err := e.ReadRelationships(ctx, req.Caller, f)
			if err != nil {
				return RelationshipResponse{Error: AsError(err)}
			}
			return RelationshipResponse{Success: true, Relationships: rels}
		}
		rel, err = e.GetRelationship(ctx, req.Caller, req.ID)
	}
	if err != nil {
		return RelationshipResponse{Error: AsError(err)}
	}
	return RelationshipResponse{Success: true, ID: rel.ID, Relationship: &rel}
}

// TransactionRequest is the envelope for ledger operations.
type TransactionRequest struct {
	Caller `yaml:",inline"`

	Action      Action             `json:"action" yaml:"action" validate:"required,oneof=CREATE READ APPEND_LINE TRANSITION REVERSE LIST"`
	ID          string             `json:"id,omitempty" yaml:"id,omitempty"`
	Transaction *TransactionInput  `json:"transaction,omitempty" yaml:"transaction,omitempty" validate:"required_if=Action CREATE"`
	Line        *LineInput         `json:"line,omitempty" yaml:"line,omitempty" validate:"required_if=Action APPEND_LINE"`
	Transition  *TransitionInput   `json:"transition,omitempty" yaml:"transition,omitempty" validate:"required_if=Action TRANSITION"`
	Reverse     *ReverseInput      `json:"reverse,omitempty" yaml:"reverse,omitempty"`
	Filter      *TransactionFilter `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// TransactionResponse carries the outcome of a TransactionRequest.
type TransactionResponse struct {
	Success      bool                   `json:"success"`
	ID           string                 `json:"id,omitempty"`
	Transaction  *TransactionRecord     `json:"transaction,omitempty"`
	Header       *ir.TransactionHeader  `json:"header,omitempty"`
	Line         *ir.TransactionLine    `json:"line,omitempty"`
	Transactions []ir.TransactionHeader `json:"transactions,omitempty"`
	Error        *Error                 `json:"error,omitempty"`
}

// TransactionOp dispatches a ledger request.
func (e *Engine) TransactionOp(ctx context.Context, req TransactionRequest) TransactionResponse {
	if err := e.checkStruct(req); err != nil {
		return TransactionResponse{Error: AsError(err)}
	}
	needID := req.Action == ActionAppendLine || req.Action == ActionReverse || req.Action == ActionRead
	if needID && req.ID == "" {
		return TransactionResponse{Error: validationError(CodeInvalidRequest, "%s requires id", req.Action)}
	}

	fail := func(err error) TransactionResponse { return TransactionResponse{Error: AsError(err)} }
	switch req.Action {
	case ActionCreate:
		rec, err := e.CreateTransaction(ctx, req.Caller, *req.Transaction)
		if err != nil {
			return fail(err)
		}
		return TransactionResponse{Success: true, ID: rec.Header.ID, Transaction: &rec}
	case ActionRead:
		rec, err := e.ReadTransaction(ctx, req.Caller, req.ID)
		if err != nil {
			return fail(err)
		}
		return TransactionResponse{Success: true, ID: rec.Header.ID, Transaction: &rec}
	case ActionAppendLine:
		l, err := e.AppendLine(ctx, req.Caller, req.ID, *req.Line)
		if err != nil {
			return fail(err)
		}
		return TransactionResponse{Success: true, ID: req.ID, Line: &l}
	case ActionTransition:
		h, err := e.TransitionTransaction(ctx, req.Caller, *req.Transition)
		if err != nil {
			return fail(err)
		}
		return TransactionResponse{Success: true, ID: h.ID, Header: &h}
	case ActionReverse:
		var in ReverseInput
		if req.Reverse != nil {
			in = *req.Reverse
		}
		rec, err := e.ReverseTransaction(ctx, req.Caller, req.ID, in)
		if err != nil {
			return fail(err)
		}
		return TransactionResponse{Success: true, ID: rec.Header.ID, Transaction: &rec}
	}

	var f TransactionFilter
	if req.Filter != nil {
		f = *req.Filter
	}
	hs, err := e.ListTransactions(ctx, req.Caller, f)
	if err != nil {
		return fail(err)
	}
	return TransactionResponse{Success: true, Transactions: hs}
}

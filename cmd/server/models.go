package main

import (
	"time"

	"github.com/liamcoop/retention/events"
	"github.com/liamcoop/retention/repository"
	"github.com/liamcoop/retention/retention"
)

// API request and response models

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error   string `json:"error" example:"rule not found"`
	Details string `json:"details,omitempty" example:"rule not found: 42"`
} // @name ErrorResponse

// HealthResponse reports service health
type HealthResponse struct {
	Status  string `json:"status" example:"healthy"`
	Backend string `json:"backend" example:"postgres"`
	Error   string `json:"error,omitempty"`
} // @name HealthResponse

// RuleRequest is the body for creating or replacing a rule
type RuleRequest struct {
	Name                    string             `json:"name" example:"Contracts 10y" binding:"required"`
	ApplicationPolicy       string             `json:"applicationPolicy" example:"manual"`
	StartingPointPolicy     string             `json:"startingPointPolicy,omitempty" example:"event_based"`
	StartingPointEvent      string             `json:"startingPointEvent,omitempty" example:"documentMoved"`
	StartingPointExpression string             `json:"startingPointExpression,omitempty" example:"document.path.startsWith(\"/archive\")"`
	Expression              string             `json:"expression,omitempty" example:"document.type == \"Contract\""`
	Duration                retention.Duration `json:"duration"`
	BeginActions            []string           `json:"beginActions,omitempty" example:"Document.Lock"`
	EndActions              []string           `json:"endActions,omitempty" example:"Document.Unlock"`
	AcceptedDocTypes        []string           `json:"acceptedDocTypes,omitempty" example:"Contract"`
	Enabled                 *bool              `json:"enabled,omitempty" example:"true"`
} // @name RuleRequest

// toRule converts the request, parsing the policy names. The application
// policy defaults to manual.
func (req RuleRequest) toRule(id string) (*retention.Rule, error) {
	app := retention.PolicyManual
	if req.ApplicationPolicy != "" {
		var err error
		if app, err = retention.ParseApplicationPolicy(req.ApplicationPolicy); err != nil {
			return nil, err
		}
	}
	start, err := retention.ParseStartingPointPolicy(req.StartingPointPolicy)
	if err != nil {
		return nil, err
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &retention.Rule{
		ID:                id,
		Name:              req.Name,
		ApplicationPolicy: app,
		RetentionFields: retention.RetentionFields{
			Duration:                req.Duration,
			StartingPointPolicy:     start,
			StartingPointEvent:      req.StartingPointEvent,
			StartingPointExpression: req.StartingPointExpression,
			Expression:              req.Expression,
			BeginActions:            req.BeginActions,
			EndActions:              req.EndActions,
		},
		Enabled:          enabled,
		AcceptedDocTypes: req.AcceptedDocTypes,
	}, nil
}

// RulesListResponse lists rules in creation order
type RulesListResponse struct {
	Rules []*retention.Rule `json:"rules"`
} // @name RulesListResponse

// CreateDocumentRequest is the body for creating a document
type CreateDocumentRequest struct {
	Type       string         `json:"type" example:"Contract" binding:"required"`
	Name       string         `json:"name" example:"nda.pdf" binding:"required"`
	ParentPath string         `json:"parentPath,omitempty" example:"/legal"`
	Properties map[string]any `json:"properties,omitempty"`
} // @name CreateDocumentRequest

// MoveDocumentRequest is the body for moving a document
type MoveDocumentRequest struct {
	ParentPath string `json:"parentPath" example:"/archive" binding:"required"`
} // @name MoveDocumentRequest

// DocumentResponse is a document with its retention marker
type DocumentResponse struct {
	Document    *repository.Document `json:"document"`
	RetainUntil repository.Marker    `json:"retainUntil"`
} // @name DocumentResponse

// AttachRequest names the rule to attach
type AttachRequest struct {
	RuleID string `json:"ruleId" example:"5b0c3f0e-6f1e-4a55-9b3c-1d2e3f405162" binding:"required"`
} // @name AttachRequest

// AutoApplyResponse reports which auto rule, if any, was attached
type AutoApplyResponse struct {
	RuleID   string               `json:"ruleId,omitempty"`
	Document *repository.Document `json:"document"`
} // @name AutoApplyResponse

// BundleRequest carries notifications committed together by an external repository
type BundleRequest struct {
	Notifications []events.Notification `json:"notifications" binding:"required"`
} // @name BundleRequest

// AcceptedEventsResponse lists the events the engine reacts to
type AcceptedEventsResponse struct {
	Events []string `json:"events" example:"documentMoved"`
} // @name AcceptedEventsResponse

// SweepResponse reports a manual sweep
type SweepResponse struct {
	Finalized int       `json:"finalized" example:"3"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
} // @name SweepResponse

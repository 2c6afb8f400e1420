package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/opsloop/internal/directive"
	"github.com/fyrsmithlabs/opsloop/internal/selfheal"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

const defaultQueueLimit = 20

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_log_event",
		Description: "Append an event to a conversation session, creating the session if needed",
	}, instrument(s, "session_log_event", s.sessionLogEvent))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_process",
		Description: "Extract candidate facts from a session and queue them for review",
	}, instrument(s, "session_process", s.sessionProcess))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "queue_list",
		Description: "List validation queue entries, optionally filtered by status",
	}, instrument(s, "queue_list", s.queueList))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "queue_review",
		Description: "Approve, reject or modify a queued candidate fact",
	}, instrument(s, "queue_review", s.queueReview))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "event_record",
		Description: "Record an operational event for self-heal trend analysis",
	}, instrument(s, "event_record", s.eventRecord))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rules_instructions",
		Description: "Get the live self-heal instructions for a sector, most confident first",
	}, instrument(s, "rules_instructions", s.rulesInstructions))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "directive_plan",
		Description: "Plan and critique a directive without executing it",
	}, instrument(s, "directive_plan", s.directivePlan))
}

// ===== SESSION TOOLS =====

type sessionLogEventInput struct {
	SessionID string         `json:"session_id" jsonschema:"Session identifier"`
	Agent     string         `json:"agent,omitempty" jsonschema:"Agent emitting the event (default: user)"`
	Event     string         `json:"event" jsonschema:"Event name, e.g. user_message or agent_response"`
	Details   map[string]any `json:"details,omitempty" jsonschema:"Event payload; the text key carries the message"`
}

type sessionLogEventOutput struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
	Events    int    `json:"events" jsonschema:"Number of events in the session history"`
}

func (s *Server) sessionLogEvent(ctx context.Context, req *mcp.CallToolRequest, in sessionLogEventInput) (*mcp.CallToolResult, sessionLogEventOutput, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, sessionLogEventOutput{}, fmt.Errorf("session_id is required")
	}
	if strings.TrimSpace(in.Event) == "" {
		return nil, sessionLogEventOutput{}, fmt.Errorf("event is required")
	}
	agent := in.Agent
	if agent == "" {
		agent = "user"
	}
	rec, err := s.reg.Sessions().LogEvent(ctx, in.SessionID, agent, in.Event, in.Details)
	if err != nil {
		return nil, sessionLogEventOutput{}, fmt.Errorf("logging event: %w", err)
	}
	out := sessionLogEventOutput{SessionID: rec.SessionID, Events: len(rec.History)}
	return textResult("Logged %s in session %s (%d events)", in.Event, out.SessionID, out.Events), out, nil
}

type sessionProcessInput struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
}

type sessionProcessOutput struct {
	SessionID string `json:"session_id" jsonschema:"Session identifier"`
	Extracted int    `json:"extracted" jsonschema:"Candidate facts extracted"`
	Queued    int    `json:"queued" jsonschema:"Facts newly queued after deduplication"`
}

func (s *Server) sessionProcess(ctx context.Context, req *mcp.CallToolRequest, in sessionProcessInput) (*mcp.CallToolResult, sessionProcessOutput, error) {
	res, err := s.reg.ProcessSession(ctx, in.SessionID)
	if err != nil {
		return nil, sessionProcessOutput{}, err
	}
	out := sessionProcessOutput{SessionID: res.SessionID, Extracted: res.Extracted, Queued: res.Queued}
	return textResult("Session %s: %d extracted, %d queued", out.SessionID, out.Extracted, out.Queued), out, nil
}

// ===== QUEUE TOOLS =====

type queueListInput struct {
	Status string `json:"status,omitempty" jsonschema:"Filter by status: pending, approved, rejected, modified or any reviewer-assigned value"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum entries to return (default: 20)"`
}

type queueItem struct {
	ID         string  `json:"id" jsonschema:"Fact ID"`
	Type       string  `json:"type" jsonschema:"Fact type"`
	Status     string  `json:"status" jsonschema:"Review status"`
	Fact       string  `json:"fact" jsonschema:"Fact text, reviewer rewording when present"`
	Confidence float64 `json:"confidence" jsonschema:"Extraction confidence"`
	SessionID  string  `json:"session_id" jsonschema:"Source session"`
	Injected   bool    `json:"injected" jsonschema:"Whether the fact reached the knowledge base"`
}

type queueListOutput struct {
	Entries []queueItem `json:"entries" jsonschema:"Matching entries, oldest first"`
	Total   int         `json:"total" jsonschema:"Number of matching entries before the limit"`
}

func (s *Server) queueList(ctx context.Context, req *mcp.CallToolRequest, in queueListInput) (*mcp.CallToolResult, queueListOutput, error) {
	if in.Status != "" && !validation.ValidStatus(in.Status) {
		return nil, queueListOutput{}, fmt.Errorf("%w: %q", validation.ErrInvalidStatus, in.Status)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	entries, err := s.reg.Queue().List(ctx, in.Status)
	if err != nil {
		return nil, queueListOutput{}, fmt.Errorf("listing queue: %w", err)
	}

	out := queueListOutput{Entries: []queueItem{}, Total: len(entries)}
	for _, e := range entries {
		if len(out.Entries) == limit {
			break
		}
		out.Entries = append(out.Entries, queueItem{
			ID:         e.ID,
			Type:       string(e.Type),
			Status:     e.Status,
			Fact:       e.Fact(),
			Confidence: e.Confidence,
			SessionID:  e.Source.SessionID,
			Injected:   e.InjectedToKB,
		})
	}
	return textResult("%d of %d entries", len(out.Entries), out.Total), out, nil
}

type queueReviewInput struct {
	ID           string `json:"id" jsonschema:"Fact ID"`
	Status       string `json:"status" jsonschema:"New status: approved, rejected, modified, pending or a custom reviewer value"`
	ReviewedBy   string `json:"reviewed_by,omitempty" jsonschema:"Reviewer name (default: mcp)"`
	ModifiedFact string `json:"modified_fact,omitempty" jsonschema:"Reworded fact, for the modified status"`
}

type queueReviewOutput struct {
	ID     string `json:"id" jsonschema:"Fact ID"`
	Status string `json:"status" jsonschema:"Applied status"`
}

func (s *Server) queueReview(ctx context.Context, req *mcp.CallToolRequest, in queueReviewInput) (*mcp.CallToolResult, queueReviewOutput, error) {
	reviewer := in.ReviewedBy
	if reviewer == "" {
		reviewer = "mcp"
	}
	found, err := s.reg.Queue().SetStatus(ctx, in.ID, in.Status, validation.Review{
		ReviewedBy:   reviewer,
		ModifiedFact: in.ModifiedFact,
	})
	if err != nil {
		return nil, queueReviewOutput{}, err
	}
	if !found {
		return nil, queueReviewOutput{}, fmt.Errorf("queue entry %s not found", in.ID)
	}
	out := queueReviewOutput{ID: in.ID, Status: in.Status}
	return textResult("Fact %s is now %s", out.ID, out.Status), out, nil
}

// ===== SELF-HEAL TOOLS =====

type eventRecordInput struct {
	Source             string         `json:"source,omitempty" jsonschema:"Component that emitted the event"`
	Status             string         `json:"status,omitempty" jsonschema:"Event status; error counts as an ops failure"`
	Message            string         `json:"message,omitempty" jsonschema:"Human readable summary"`
	SEOPressure        *float64       `json:"seo_pressure,omitempty" jsonschema:"SEO pressure score, 0 to 100"`
	SystemPressure     *float64       `json:"system_pressure,omitempty" jsonschema:"System pressure score, 0 to 100"`
	QualificationScore *float64       `json:"qualification_score,omitempty" jsonschema:"Voice qualification score, 0 to 100"`
	Cost               *float64       `json:"cost,omitempty" jsonschema:"Actual acquisition cost"`
	TargetCost         *float64       `json:"target_cost,omitempty" jsonschema:"Target acquisition cost"`
	Details            map[string]any `json:"details,omitempty" jsonschema:"Extra event payload"`
}

type eventRecordOutput struct {
	Sectors []string `json:"sectors" jsonschema:"Sectors whose failure predicate the event satisfies"`
}

func (s *Server) eventRecord(ctx context.Context, req *mcp.CallToolRequest, in eventRecordInput) (*mcp.CallToolResult, eventRecordOutput, error) {
	ev := selfheal.Event{
		Source:             in.Source,
		Status:             in.Status,
		Message:            s.reg.Redactor().Redact(in.Message),
		SEOPressure:        in.SEOPressure,
		SystemPressure:     in.SystemPressure,
		QualificationScore: in.QualificationScore,
		Cost:               in.Cost,
		TargetCost:         in.TargetCost,
		Details:            s.reg.Redactor().RedactDetails(in.Details),
	}
	if err := s.reg.Rules().Record(ctx, ev); err != nil {
		return nil, eventRecordOutput{}, err
	}
	out := eventRecordOutput{Sectors: []string{}}
	for _, sec := range selfheal.Classify(ev) {
		out.Sectors = append(out.Sectors, string(sec))
	}
	if len(out.Sectors) == 0 {
		return textResult("Event recorded"), out, nil
	}
	return textResult("Event recorded as failure in %s", strings.Join(out.Sectors, ", ")), out, nil
}

type rulesInstructionsInput struct {
	Sector        string  `json:"sector" jsonschema:"Sector: seo, ops, voice or ads"`
	MinConfidence float64 `json:"min_confidence,omitempty" jsonschema:"Minimum rule confidence, 0 to 1"`
}

type rulesInstructionsOutput struct {
	Sector       string   `json:"sector" jsonschema:"Sector"`
	Instructions []string `json:"instructions" jsonschema:"Instructions, most confident first"`
}

func (s *Server) rulesInstructions(ctx context.Context, req *mcp.CallToolRequest, in rulesInstructionsInput) (*mcp.CallToolResult, rulesInstructionsOutput, error) {
	sector, err := parseSector(in.Sector)
	if err != nil {
		return nil, rulesInstructionsOutput{}, err
	}
	instructions, err := s.reg.Rules().Instructions(ctx, sector, in.MinConfidence)
	if err != nil {
		return nil, rulesInstructionsOutput{}, fmt.Errorf("loading rules: %w", err)
	}
	out := rulesInstructionsOutput{Sector: string(sector), Instructions: instructions}
	if len(instructions) == 0 {
		return textResult("No active instructions for %s", sector), out, nil
	}
	return textResult("%s", strings.Join(instructions, "\n")), out, nil
}

func parseSector(name string) (selfheal.Sector, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range selfheal.Sectors() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown sector %q", name)
}

// ===== DIRECTIVE TOOLS =====

type directivePlanInput struct {
	Directive string `json:"directive" jsonschema:"Natural language directive"`
}

type directivePlanOutput struct {
	PlanID string            `json:"plan_id" jsonschema:"Plan ID"`
	Tool   string            `json:"tool" jsonschema:"Selected tool ID"`
	Score  int               `json:"score" jsonschema:"Keyword score of the selected tool"`
	Params map[string]string `json:"params" jsonschema:"Extracted parameters"`
	Valid  bool              `json:"valid" jsonschema:"Whether the plan passed critique"`
	Issues []string          `json:"issues" jsonschema:"Critique issues"`
}

func (s *Server) directivePlan(ctx context.Context, req *mcp.CallToolRequest, in directivePlanInput) (*mcp.CallToolResult, directivePlanOutput, error) {
	d := s.reg.Dispatcher()
	plan, err := d.Plan(ctx, in.Directive)
	if err != nil {
		return nil, directivePlanOutput{}, err
	}
	critique, err := d.Critique(ctx, plan, plan.Directive)
	if err != nil {
		return nil, directivePlanOutput{}, err
	}
	out := directivePlanOutput{
		PlanID: plan.ID,
		Tool:   plan.Tool.ID,
		Score:  plan.Score,
		Params: plan.Params,
		Valid:  critique.Valid,
		Issues: critique.Issues,
	}
	if out.Params == nil {
		out.Params = map[string]string{}
	}
	return textResult("%s", formatPlan(plan, critique)), out, nil
}

func formatPlan(plan *directive.Plan, c *directive.Critique) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s (score %d)", plan.Tool.ID, plan.Score)
	for _, k := range []string{directive.ParamQuery, directive.ParamLocation} {
		if v, ok := plan.Params[k]; ok {
			fmt.Fprintf(&b, "\n%s: %s", k, v)
		}
	}
	if c.Valid {
		b.WriteString("\nCritique: valid")
	} else {
		b.WriteString("\nCritique: rejected")
		for _, issue := range c.Issues {
			b.WriteString("\n- " + issue)
		}
	}
	return b.String()
}

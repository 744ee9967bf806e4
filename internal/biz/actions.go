package biz

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"CareFlow/internal/model"
)

// ActionRequest is everything a handler needs to run one phase action.
type ActionRequest struct {
	ClientID string
	Phase    int
	Action   ActionDef
	// Params are the action params after personalization and delays.
	Params map[string]any
	Record *model.Record
}

// ActionHandler runs one kind of phase action against external collaborators.
type ActionHandler interface {
	Execute(ctx context.Context, req *ActionRequest) (map[string]any, error)
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, req *ActionRequest) (map[string]any, error)

func (f ActionHandlerFunc) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	return f(ctx, req)
}

// ActionDeps are the collaborators the built-in handlers call.
type ActionDeps struct {
	Records          RecordStore
	Notifier         Notifier
	Predictor        Predictor
	Calendar         CalendarScheduler
	CoordinatorEmail string
}

// ActionRegistry maps every ActionKind to its handler.
type ActionRegistry struct {
	handlers map[ActionKind]ActionHandler
}

// NewActionRegistry builds the registry with a handler for every kind.
func NewActionRegistry(deps ActionDeps) *ActionRegistry {
	notify := func(ch model.Channel, field string) ActionHandler {
		return &notifyAction{channel: ch, recipientField: field, notifier: deps.Notifier, records: deps.Records}
	}
	return &ActionRegistry{handlers: map[ActionKind]ActionHandler{
		ActionEmail:            notify(model.ChannelEmail, "Email"),
		ActionSMS:              notify(model.ChannelSMS, "Phone"),
		ActionPush:             notify(model.ChannelPush, ""),
		ActionTeamNotify:       &teamNotifyAction{notifier: deps.Notifier, coordinator: deps.CoordinatorEmail},
		ActionRecordUpdate:     &recordUpdateAction{records: deps.Records},
		ActionRecordCreate:     &recordCreateAction{records: deps.Records},
		ActionTask:             &taskAction{records: deps.Records},
		ActionCalendar:         &calendarAction{calendar: deps.Calendar, records: deps.Records, coordinator: deps.CoordinatorEmail},
		ActionProviderMatching: &providerMatchingAction{predictor: deps.Predictor, records: deps.Records},
		ActionAIAnalysis:       &aiAnalysisAction{predictor: deps.Predictor, records: deps.Records},
	}}
}

// Register replaces the handler for kind. Kinds outside the closed set are rejected.
func (r *ActionRegistry) Register(kind ActionKind, h ActionHandler) error {
	if !kind.valid() {
		return fmt.Errorf("%w: unknown action kind %q", ErrValidation, kind)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrValidation, kind)
	}
	r.handlers[kind] = h
	return nil
}

// Execute dispatches req to the handler for its kind.
func (r *ActionRegistry) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	h, ok := r.handlers[req.Action.Kind]
	if !ok {
		return nil, fmt.Errorf("no handler for action kind %q", req.Action.Kind)
	}
	return h.Execute(ctx, req)
}

var errNotDelivered = errors.New("not delivered")

type notifyAction struct {
	channel        model.Channel
	recipientField string
	notifier       Notifier
	records        RecordStore
}

func (a *notifyAction) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	recipient := req.ClientID
	if a.recipientField != "" {
		recipient = req.Record.String(a.recipientField)
		if recipient == "" {
			return nil, fmt.Errorf("client record has no %s", a.recipientField)
		}
	}

	merge := maps.Clone(req.Params)
	if merge == nil {
		merge = map[string]any{}
	}
	merge["first_name"] = req.Record.String("First_Name")
	merge["service_type"] = req.Record.String("Service_Type")
	merge["phase"] = req.Phase

	ok, err := a.notifier.Send(ctx, a.channel, req.Action.Template, recipient, merge)
	if err != nil {
		return nil, collabErr("notifier", "send", err)
	}
	if !ok {
		return nil, collabErr("notifier", "send", errNotDelivered)
	}

	out := map[string]any{"channel": string(a.channel), "template": req.Action.Template}
	if a.channel == model.ChannelEmail {
		if _, err := a.records.Update(ctx, model.ModuleContacts, req.ClientID, map[string]any{
			"Last_Email_Sent":     time.Now().UTC().Format(time.RFC3339),
			"Last_Email_Template": req.Action.Template,
		}); err != nil {
			out["record_update_error"] = err.Error()
		}
	}
	return out, nil
}

type teamNotifyAction struct {
	notifier    Notifier
	coordinator string
}

func (a *teamNotifyAction) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	merge := maps.Clone(req.Params)
	if merge == nil {
		merge = map[string]any{}
	}
	merge["client_id"] = req.ClientID
	merge["phase"] = req.Phase
	merge["priority"] = string(req.Action.Priority)

	ok, err := a.notifier.Send(ctx, model.ChannelEmail, req.Action.Template, a.coordinator, merge)
	if err != nil {
		return nil, collabErr("notifier", "send", err)
	}
	if !ok {
		return nil, collabErr("notifier", "send", errNotDelivered)
	}
	return map[string]any{"notified": a.coordinator}, nil
}

type recordUpdateAction struct {
	records RecordStore
}

func (a *recordUpdateAction) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	fields := map[string]any{}
	if f, ok := req.Params["fields"].(map[string]any); ok {
		maps.Copy(fields, f)
	}
	fields["Last_Workflow_Action"] = req.Action.Name
	if p, ok := req.Params["personalization"]; ok {
		fields["AI_Recommendations"] = p
	}

	ok, err := a.records.Update(ctx, model.ModuleContacts, req.ClientID, fields)
	if err != nil {
		return nil, collabErr("record_store", "update", err)
	}
	if !ok {
		return nil, collabErr("record_store", "update", fmt.Errorf("client %s not updated", req.ClientID))
	}
	return map[string]any{"updated_fields": len(fields)}, nil
}

type recordCreateAction struct {
	records RecordStore
}

func (a *recordCreateAction) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	module, _ := req.Params["module"].(string)
	fields := maps.Clone(req.Params)
	delete(fields, "module")
	fields["Client_ID"] = req.ClientID
	fields["Created_By_Action"] = req.Action.Name

	id, err := a.records.Create(ctx, module, fields)
	if err != nil {
		return nil, collabErr("record_store", "create", err)
	}
	return map[string]any{"module": module, "record_id": id}, nil
}

type taskAction struct {
	records RecordStore
}

func (a *taskAction) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	title, _ := req.Params["title"].(string)
	if title == "" {
		title = req.Action.Name
	}
	fields := map[string]any{
		"Subject":   title,
		"Client_ID": req.ClientID,
		"Priority":  string(req.Action.Priority),
		"Phase":     req.Phase,
		"Status":    "Not Started",
	}
	for _, key := range []string{"assigned_to", "due_in_hours", "start_after", "personalization"} {
		if v, ok := req.Params[key]; ok {
			fields[key] = v
		}
	}

	id, err := a.records.Create(ctx, model.ModuleTasks, fields)
	if err != nil {
		return nil, collabErr("record_store", "create", err)
	}
	return map[string]any{"task_id": id}, nil
}

type calendarAction struct {
	calendar    CalendarScheduler
	records     RecordStore
	coordinator string
}

func (a *calendarAction) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	attendees := make([]string, 0, 2)
	if email := req.Record.String("Email"); email != "" {
		attendees = append(attendees, email)
	}
	if a.coordinator != "" {
		attendees = append(attendees, a.coordinator)
	}
	if len(attendees) == 0 {
		return nil, fmt.Errorf("no attendees for %s", req.Action.Name)
	}

	duration := 60
	if d, ok := toFloat(req.Params["duration"]); ok && d > 0 {
		duration = int(d)
	}

	title, _ := req.Params["title"].(string)
	if title == "" {
		title = req.Action.Name
	}
	if name := req.Record.String("First_Name"); name != "" {
		title = fmt.Sprintf("%s - %s", title, name)
	}

	// another client may book the slot between the search and the booking
	const maxBookingAttempts = 3
	var (
		slot    *model.Slot
		eventID string
		err     error
	)
	for attempt := 0; attempt < maxBookingAttempts; attempt++ {
		slot, err = a.calendar.FindSlot(ctx, attendees, duration, req.Params)
		if err != nil {
			return nil, collabErr("calendar", "find_slot", err)
		}
		if slot == nil {
			return nil, collabErr("calendar", "find_slot", errors.New("no available slot"))
		}
		eventID, err = a.calendar.CreateEvent(ctx, &model.CalendarEvent{
			Title:     title,
			Attendees: attendees,
			Start:     slot.Start,
			End:       slot.End,
			ClientID:  req.ClientID,
		})
		if !errors.Is(err, model.ErrSlotTaken) {
			break
		}
	}
	if err != nil {
		return nil, collabErr("calendar", "create_event", err)
	}

	out := map[string]any{"event_id": eventID, "start": slot.Start.UTC().Format(time.RFC3339)}
	if _, err := a.records.Update(ctx, model.ModuleContacts, req.ClientID, map[string]any{
		"Calendar_Event_ID": eventID,
		"Next_Meeting":      slot.Start.UTC().Format(time.RFC3339),
	}); err != nil {
		out["record_update_error"] = err.Error()
	}
	return out, nil
}

type providerMatchingAction struct {
	predictor Predictor
	records   RecordStore
}

func (a *providerMatchingAction) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	maxMatches := 3
	if n, ok := toFloat(req.Params["top_candidates"]); ok && n > 0 {
		maxMatches = int(n)
	}

	res, err := a.predictor.Predict(ctx, "provider_matching", map[string]any{
		"client_id":         req.ClientID,
		"client_profile":    req.Record.Fields,
		"matching_criteria": req.Params["matching_criteria"],
		"max_matches":       maxMatches,
	})
	if err != nil {
		return nil, collabErr("predictor", "provider_matching", err)
	}

	matches, _ := res.Prediction["top_matches"].([]any)
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	matchID, err := a.records.Create(ctx, model.ModuleMatches, map[string]any{
		"Client_ID":   req.ClientID,
		"Top_Matches": matches,
		"Confidence":  res.Confidence,
		"Factors":     res.Factors,
	})
	if err != nil {
		return nil, collabErr("record_store", "create", err)
	}
	if _, err := a.records.Update(ctx, model.ModuleContacts, req.ClientID, map[string]any{
		"Provider_Matches_ID": matchID,
		"Matching_Score":      res.Confidence,
	}); err != nil {
		return nil, collabErr("record_store", "update", err)
	}
	return map[string]any{"matches_found": len(matches), "match_record_id": matchID}, nil
}

type aiAnalysisAction struct {
	predictor Predictor
	records   RecordStore
}

func (a *aiAnalysisAction) Execute(ctx context.Context, req *ActionRequest) (map[string]any, error) {
	modelName, _ := req.Params["model"].(string)
	if modelName == "" {
		modelName = req.Action.Name
	}

	res, err := a.predictor.Predict(ctx, modelName, map[string]any{
		"client_id":      req.ClientID,
		"client_profile": req.Record.Fields,
		"phase":          req.Phase,
		"params":         req.Params,
	})
	if err != nil {
		return nil, collabErr("predictor", modelName, err)
	}

	if _, err := a.records.Update(ctx, model.ModuleContacts, req.ClientID, map[string]any{
		"Last_AI_Analysis":   modelName,
		"Last_AI_Confidence": res.Confidence,
	}); err != nil {
		return nil, collabErr("record_store", "update", err)
	}
	return map[string]any{"model": modelName, "confidence": res.Confidence, "factors": res.Factors}, nil
}

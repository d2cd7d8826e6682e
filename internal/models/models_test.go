package models

import (
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInboundMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     InboundMessage
		wantErr error
	}{
		{"valid defaults channel", InboundMessage{ChannelID: "c1", TenantID: "t1", Body: "hi"}, nil},
		{"missing channel", InboundMessage{TenantID: "t1", Body: "hi"}, ErrEmptyChannelID},
		{"missing tenant", InboundMessage{ChannelID: "c1", Body: "hi"}, ErrEmptyTenantID},
		{"blank body", InboundMessage{ChannelID: "c1", TenantID: "t1", Body: "  "}, ErrEmptyMessageBody},
		{"too long", InboundMessage{ChannelID: "c1", TenantID: "t1", Body: strings.Repeat("a", MaxMessageBodyLength+1)}, ErrMessageBodyTooLong},
		{"bad channel", InboundMessage{ChannelID: "c1", TenantID: "t1", Body: "hi", Channel: "fax"}, ErrInvalidChannelType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if err != tt.wantErr {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
			if err == nil && tt.msg.Channel != ChannelChat {
				t.Errorf("expected channel to default to chat, got %q", tt.msg.Channel)
			}
		})
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	if r := Success("x"); r.Status != string(APIStatusOK) || r.Result != "x" {
		t.Errorf("Success() = %+v", r)
	}
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("Error() = %+v", r)
	}
	if r := Duplicate("seen"); r.Status != string(APIStatusDuplicate) {
		t.Errorf("Duplicate() = %+v", r)
	}
}

func TestFieldListDecodesBothShapes(t *testing.T) {
	const doc = `{"fields": ["email", {"name": "phone", "required": false}, {"name": "company"}]}`
	var d DataToCapture
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(d.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(d.Fields))
	}
	if !d.Fields[0].Required || d.Fields[0].Name != "email" {
		t.Errorf("bare string should be required: %+v", d.Fields[0])
	}
	if d.Fields[1].Required {
		t.Errorf("explicit required=false lost: %+v", d.Fields[1])
	}
	if !d.Fields[2].Required {
		t.Errorf("object without flag should default to required: %+v", d.Fields[2])
	}

	const ydoc = "fields:\n  - email\n  - name: phone\n    required: false\n"
	var y DataToCapture
	if err := yaml.Unmarshal([]byte(ydoc), &y); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	if len(y.Fields) != 2 || !y.Fields[0].Required || y.Fields[1].Required {
		t.Errorf("unexpected yaml fields: %+v", y.Fields)
	}
}

func TestRequiredFieldsFallsBackToAll(t *testing.T) {
	g := GoalDefinition{DataToCapture: DataToCapture{Fields: FieldList{
		{Name: "a"}, {Name: "b"},
	}}}
	if got := g.RequiredFields(); len(got) != 2 {
		t.Errorf("expected all fields when none flagged, got %v", got)
	}
	g.DataToCapture.Fields[1].Required = true
	if got := g.RequiredFields(); len(got) != 1 || got[0].Name != "b" {
		t.Errorf("expected only b, got %v", got)
	}
}

func TestGoalDefaults(t *testing.T) {
	var g GoalDefinition
	if g.EffectiveOrder() != DefaultOrder {
		t.Errorf("EffectiveOrder() = %d", g.EffectiveOrder())
	}
	if g.AdherenceLevel() != 5 {
		t.Errorf("AdherenceLevel() = %d", g.AdherenceLevel())
	}
	if PriorityCritical.Weight() != 10 || PriorityLow.Weight() != 1 || Priority("odd").Weight() != 4 {
		t.Error("unexpected priority weights")
	}
}

func TestCapturedValueAcceptsBareString(t *testing.T) {
	const doc = `{"channelId":"c1","capturedData":{"email":"a@b.co","preferredTime":{"value":"evening","validated":false}}}`
	var s ChannelWorkflowState
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v := s.CapturedData["email"]; v.Value != "a@b.co" || !v.Validated {
		t.Errorf("bare string decode = %+v", v)
	}
	if v := s.CapturedData["preferredTime"]; v.Value != "evening" || v.Validated {
		t.Errorf("object decode = %+v", v)
	}
}

func TestStateTransitionsKeepSetsDisjoint(t *testing.T) {
	s := NewChannelWorkflowState("c1")
	s.Activate("g1")
	s.Activate("g2")
	s.Decline("g2")
	s.Complete("g1")
	if s.IsActive("g1") || !s.IsCompleted("g1") {
		t.Errorf("g1 should only be completed: %+v", s)
	}
	if s.IsActive("g2") || !s.IsDeclined("g2") {
		t.Errorf("g2 should only be declined: %+v", s)
	}
	if s.Activate("g2") {
		t.Error("declined goal must not be re-activated")
	}
	s.Complete("g2")
	if s.IsDeclined("g2") {
		t.Error("completing must remove from declined")
	}
	s.MarkIncomplete("g1")
	if s.IsCompleted("g1") || !s.IsActive("g1") {
		t.Errorf("g1 should be active again: %+v", s)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewChannelWorkflowState("c1")
	s.Activate("g1")
	s.CaptureField("email", "a@b.co", true, s.LastUpdated)
	c := s.Clone()
	c.ActiveGoals[0] = "other"
	c.CapturedData["email"] = CapturedValue{Value: "x"}
	if s.ActiveGoals[0] != "g1" || s.CapturedData["email"].Value != "a@b.co" {
		t.Error("clone shares memory with original")
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := NewChannelWorkflowState("c1")
	s.MessageCount = 2
	s.Activate("g1")
	s.AttemptCounts["g1"] = 1
	snap := s.Snapshot("r1", s.LastUpdated)

	s.MessageCount = 3
	s.AttemptCounts["g1"] = 2
	s.Complete("g1")
	s.CaptureField("email", "a@b.co", true, s.LastUpdated)
	s.RecordEmitted("goal:g1:done")

	s.Restore(snap)
	if s.MessageCount != 2 || !s.IsActive("g1") || s.IsCompleted("g1") {
		t.Errorf("restore did not roll back: %+v", s)
	}
	if _, ok := s.CapturedData["email"]; ok {
		t.Error("captured data should be rolled back")
	}
	if s.AttemptCounts["g1"] != 1 {
		t.Errorf("attempt count = %d, want 1 after restore", s.AttemptCounts["g1"])
	}
	snap.AttemptCounts["g1"] = 9
	if s.AttemptCounts["g1"] != 1 {
		t.Error("restored counts share memory with the snapshot")
	}
	if !s.HasEmitted("goal:g1:done") {
		t.Error("emitted markers are not part of the snapshot")
	}
}

func TestResolveGoalID(t *testing.T) {
	cfg := &GoalConfiguration{Goals: []GoalDefinition{{ID: "collect_email"}, {ID: "collect_email_work"}, {ID: "book"}}}
	tests := []struct {
		id   string
		want string
		ok   bool
	}{
		{"collect_email", "collect_email", true},
		{"collect_email_1712000000", "collect_email", true},
		{"collect_email_work_1712000000", "collect_email_work", true},
		{"book", "book", true},
		{"retired_goal", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := cfg.ResolveGoalID(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ResolveGoalID(%q) = %q, %v; want %q, %v", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

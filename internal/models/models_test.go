package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestFollowUpSchedule_Fields(t *testing.T) {
	typ := reflect.TypeOf(FollowUpSchedule{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "TenantID", "uniqueIndex:idx_schedule_active_session")
	assertGormTag(t, typ, "SessionID", "uniqueIndex:idx_schedule_active_session")
	assertGormTag(t, typ, "ActiveSlot", "uniqueIndex:idx_schedule_active_session")
	assertGormTag(t, typ, "ConversationContext", "type:json")
	assertGormTag(t, typ, "LastMessage", "type:text")
	assertGormTag(t, typ, "NextFollowupAt", "idx_schedule_due")
	assertGormTag(t, typ, "IsActive", "idx_schedule_due")
	assertGormTag(t, typ, "Logs", "foreignKey:ScheduleID")

	// IsActive must not carry a default: gorm would turn an explicit false into true.
	if strings.Contains(gormTag(t, typ, "IsActive"), "default") {
		t.Error("IsActive gorm tag must not declare a default")
	}

	assertFieldType(t, typ, "ActiveSlot", "*int")
	assertFieldType(t, typ, "AttemptCount", "int")
	assertFieldType(t, typ, "LastInteractionAt", "time.Time")
	assertFieldType(t, typ, "NextFollowupAt", "*time.Time")
	assertFieldType(t, typ, "LastFollowupAt", "*time.Time")
	assertFieldType(t, typ, "ClosedAt", "*time.Time")
}

func TestFollowUpLog_Fields(t *testing.T) {
	typ := reflect.TypeOf(FollowUpLog{})

	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "ScheduleID", "index")
	assertGormTag(t, typ, "RunID", "size:36")
	assertGormTag(t, typ, "Message", "type:text")
	assertGormTag(t, typ, "Outcome", "not null")

	assertFieldType(t, typ, "ScheduleID", "uint")
	assertFieldType(t, typ, "Degraded", "bool")
}

func TestChatMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(ChatMessage{})

	assertGormTag(t, typ, "TenantID", "idx_chat_session")
	assertGormTag(t, typ, "SessionID", "idx_chat_session")
	assertGormTag(t, typ, "Role", "size:16")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestLeadAndPause_Keys(t *testing.T) {
	lead := reflect.TypeOf(Lead{})
	assertGormTag(t, lead, "TenantID", "primaryKey")
	assertGormTag(t, lead, "SessionID", "primaryKey")

	pause := reflect.TypeOf(PauseFlag{})
	assertGormTag(t, pause, "TenantID", "primaryKey")
	assertGormTag(t, pause, "PhoneNumber", "primaryKey")
}

func TestStatusReason(t *testing.T) {
	if got := StatusReason("perdido"); got != "status_perdido" {
		t.Errorf("StatusReason = %q, want %q", got, "status_perdido")
	}
}

func TestChatMessage_FromLead(t *testing.T) {
	if !(ChatMessage{Role: RoleUser}).FromLead() {
		t.Error("user message should be from lead")
	}
	if (ChatMessage{Role: RoleAssistant}).FromLead() {
		t.Error("assistant message should not be from lead")
	}
}

func TestTurns_RoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	enc, err := EncodeTurns([]Turn{
		{Role: RoleAssistant, Content: "Oi, tudo bem?", At: at},
		{Role: RoleUser, Content: "Tudo", At: at.Add(time.Minute)},
	})
	if err != nil {
		t.Fatalf("EncodeTurns: %v", err)
	}
	s := FollowUpSchedule{ConversationContext: enc}
	turns, err := s.Turns()
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 2 || turns[1].Role != RoleUser {
		t.Errorf("Turns = %+v", turns)
	}
}

func TestTurns_Empty(t *testing.T) {
	var s FollowUpSchedule
	turns, err := s.Turns()
	if err != nil || turns != nil {
		t.Errorf("Turns() = %v, %v; want nil, nil", turns, err)
	}
	enc, err := EncodeTurns(nil)
	if err != nil || enc != "[]" {
		t.Errorf("EncodeTurns(nil) = %q, %v; want \"[]\"", enc, err)
	}
}

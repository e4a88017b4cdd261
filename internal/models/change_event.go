package models

// InspectionChannel is the change-data-capture channel for inspection records.
const InspectionChannel = "/data/Property_Inspection__ChangeEvent"

// ReplayLatest asks the change feed to deliver only events published after
// the subscription is established.
const ReplayLatest int64 = -1

// ReplayEarliest asks the change feed to replay all retained events.
const ReplayEarliest int64 = -2

// ChangeEvent is a change-data-capture notification for an inspection record.
type ChangeEvent struct {
	Channel  string       `json:"channel"`
	Payload  EventPayload `json:"payload"`
	ReplayID int64        `json:"replayId"`
}

// EventPayload carries the changed fields. Only the related property is
// needed for routing; the header is kept for logging.
type EventPayload struct {
	Header            ChangeEventHeader `json:"ChangeEventHeader"`
	RelatedPropertyID string            `json:"Related_Property__c"`
}

// ChangeEventHeader describes which records changed and how.
type ChangeEventHeader struct {
	EntityName      string   `json:"entityName"`
	ChangeType      string   `json:"changeType"`
	RecordIDs       []string `json:"recordIds"`
	CommitTimestamp int64    `json:"commitTimestamp"`
}

package model

import "time"

// AlertInfo is the merge identity tracked by the AlertMerger for a given
// rule_id+dedup group: when the alert was first created and when
// it was last updated by a matching event. Field names mirror the original
// engine's AlertInfo record (alert_id, alert_creation_time, alert_update_time).
type AlertInfo struct {
	AlertID          string    `json:"alertId"`
	AlertCreationTime time.Time `json:"alertCreationTime"`
	AlertUpdateTime   time.Time `json:"alertUpdateTime"`
}

// BufferKey groups matched events in the MatchedEventsBuffer prior to
// flush: one gzip batch is written per distinct (RuleID, LogType, Dedup)
// combination.
type BufferKey struct {
	RuleID  string
	LogType string
	Dedup   string
}

// EventCommonFields are the engine-assigned fields stamped onto every
// matched event before it is serialized into a sink batch. The creation
// and update times are pre-formatted strings (spec §4.G's
// "YYYY-MM-DD HH:MM:SS.ffffff000" convention), not raw time.Time, since
// that is the representation written to the output line.
type EventCommonFields struct {
	RuleID            string `json:"p_rule_id"`
	AlertID           string `json:"p_alert_id"`
	AlertCreationTime string `json:"p_alert_creation_time"`
	AlertUpdateTime   string `json:"p_alert_update_time"`
}

// OutputNotification is the pub/sub payload published after a batch is
// written to the object store.
type OutputNotification struct {
	S3Bucket    string   `json:"s3Bucket"`
	S3ObjectKey string   `json:"s3ObjectKey"`
	Events      int      `json:"events"`
	Bytes       int       `json:"bytes"`
	ID          string    `json:"id"`
	Type        string    `json:"type"`
}

// NotificationType is the fixed "type" attribute stamped on every
// OutputNotification, used by downstream subscribers for message filtering.
const NotificationType = "RuleOutput"

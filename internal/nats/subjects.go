package nats

import "strconv"

const (
	// SubjectUserEventsPrefix 用户变更通道
	// 完整格式: im.chat.user.{user_id}.events
	SubjectUserEventsPrefix = "im.chat.user."
	SubjectUserEventsSuffix = ".events"
)

// BuildUserEventsSubject 构建用户变更通道 Subject
func BuildUserEventsSubject(userID int64) string {
	return SubjectUserEventsPrefix + strconv.FormatInt(userID, 10) + SubjectUserEventsSuffix
}

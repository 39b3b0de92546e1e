package models

import (
	"encoding/json"
	"strings"
	"time"
)

// classroomPrefix is shared by both chat screens so that each side derives
// the same room id without negotiating it.
const classroomPrefix = "teacher-teacher-student-"

// ClassroomRoomID returns the private teacher/student room for a student.
func ClassroomRoomID(studentID string) string {
	return classroomPrefix + studentID
}

// StudentFromRoomID reverses ClassroomRoomID.
func StudentFromRoomID(roomID string) (string, bool) {
	if !strings.HasPrefix(roomID, classroomPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(roomID, classroomPrefix)
	return id, id != ""
}

// ArchivedMessage is a relayed payload persisted behind the relay.
type ArchivedMessage struct {
	ID        int64           `db:"id" json:"id"`
	RoomID    string          `db:"room_id" json:"room_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

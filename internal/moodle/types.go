package moodle

// Classification buckets courses by the portal's timeline view.
type Classification string

const (
	ClassificationInProgress Classification = "inprogress"
	ClassificationPast       Classification = "past"
	ClassificationFuture     Classification = "future"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassificationInProgress, ClassificationPast, ClassificationFuture:
		return true
	}
	return false
}

// AuthCookie is one identity-provider cookie harvested at account-link time.
type AuthCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Credentials is the session triple granting remote access on behalf of a user.
// Rotated as a unit on every successful authentication.
type Credentials struct {
	UserID        int64
	SessionCookie string
	SessionKey    string
}

type Course struct {
	ID        int64  `json:"id"`
	FullName  string `json:"fullname"`
	ShortName string `json:"shortname"`
	StartDate int64  `json:"startdate"`
	EndDate   int64  `json:"enddate"`
}

type Grade struct {
	ID             int64    `json:"id"`
	ItemName       string   `json:"itemname"`
	ItemType       string   `json:"itemtype"`
	ItemModule     *string  `json:"itemmodule,omitempty"`
	ItemInstance   *int64   `json:"iteminstance,omitempty"`
	IDNumber       string   `json:"idnumber,omitempty"`
	GradeRaw       *float64 `json:"graderaw"`
	GradeFormatted string   `json:"gradeformatted"`
	GradeMin       float64  `json:"grademin"`
	GradeMax       float64  `json:"grademax"`
}

type EventCourse struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullname"`
}

type Event struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	TimeStart int64       `json:"timestart"`
	Component string      `json:"component"`
	Course    EventCourse `json:"course"`
}

type Assignment struct {
	ID      int64    `json:"id"`
	CmID    int64    `json:"cmid"`
	Course  int64    `json:"course"`
	Name    string   `json:"name"`
	DueDate int64    `json:"duedate"`
	Grade   *float64 `json:"grade"`
}

// StudentInfo is the profile-page identity of the authenticated student.
type StudentInfo struct {
	FullName string `json:"fullname"`
	Username string `json:"username"` // email
	UserID   int64  `json:"userId"`
}

package model

import "time"

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleKiosk   = "kiosk"
)

const (
	AnnouncementNews     = "news"
	AnnouncementBirthday = "birthday"
)

const (
	DateOpen   = "open"
	DateClosed = "closed"

	SubjectPending  = "pending"
	SubjectApproved = "approved"
	SubjectRejected = "rejected"
)

type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	UsernameLower string    `json:"usernameLower"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Role          string    `json:"role"`
	Email         string    `json:"email"`
	Birthday      string    `json:"birthday,omitempty"`
	ClassID       string    `json:"classId,omitempty"`
	ClassDocID    string    `json:"classDocId,omitempty"`
	ClassName     string    `json:"className,omitempty"`
	Classes       []string  `json:"classes,omitempty"`
	AdvisorID     string    `json:"advisorId,omitempty"`
	AdvisorName   string    `json:"advisorName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (u User) FullName() string {
	switch {
	case u.FirstName == "" && u.LastName == "":
		return u.Username
	case u.LastName == "":
		return u.FirstName
	case u.FirstName == "":
		return u.LastName
	}
	return u.FirstName + " " + u.LastName
}

// Class.ID is the document id; Class.ClassID is the short business id shown to people.
type Class struct {
	ID           string    `json:"id"`
	ClassID      string    `json:"classId"`
	ClassIDLower string    `json:"classIdLower"`
	Name         string    `json:"name"`
	Location     string    `json:"location,omitempty"`
	StudentIDs   []string  `json:"studentIds"`
	TeacherID    string    `json:"teacherId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Label is the human text for a class: its name, else its business id.
func (c Class) Label() string {
	if c.Name != "" {
		return c.Name
	}
	if c.ClassID != "" {
		return c.ClassID
	}
	return c.ID
}

type Lesson struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	TeacherUserID        string    `json:"teacherUserId,omitempty"`
	TeacherFirstName     string    `json:"teacherFirstName,omitempty"`
	TeacherLastName      string    `json:"teacherLastName,omitempty"`
	IsStudentTeacher     bool      `json:"isStudentTeacher"`
	StudentTeacherUserID string    `json:"studentTeacherUserId,omitempty"`
	StudentsUserIDs      []string  `json:"studentsUserIds"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func (l Lesson) HasStudent(userID string) bool {
	for _, id := range l.StudentsUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// TimetableEntry covers the half-open interval [StartMinutes, EndMinutes) on Day.
// ClassID holds either the class document id or its business id.
type TimetableEntry struct {
	ID           string    `json:"id"`
	ClassID      string    `json:"classId"`
	LessonID     string    `json:"lessonId"`
	Day          int       `json:"day"`
	StartMinutes int       `json:"startMinutes"`
	EndMinutes   int       `json:"endMinutes"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type EntryUpdate struct {
	ID       string
	LessonID string
}

// TimetableBatch is applied by the store as a single unit.
type TimetableBatch struct {
	Creates []TimetableEntry
	Deletes []string
	Updates []EntryUpdate
}

func (b TimetableBatch) Empty() bool {
	return len(b.Creates) == 0 && len(b.Deletes) == 0 && len(b.Updates) == 0
}

type Announcement struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Type      string     `json:"type"`
	StartAt   *time.Time `json:"startAt,omitempty"`
	EndAt     *time.Time `json:"endAt,omitempty"`
	CreatedBy string     `json:"createdBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ActiveAt reports whether now falls inside the announcement window. Missing bounds are open.
func (a Announcement) ActiveAt(now time.Time) bool {
	if a.StartAt != nil && now.Before(*a.StartAt) {
		return false
	}
	if a.EndAt != nil && !now.Before(*a.EndAt) {
		return false
	}
	return true
}

type ParliamentDate struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ParliamentSubject struct {
	ID            string     `json:"id"`
	DateID        string     `json:"dateId"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	SubmittedBy   string     `json:"submittedBy"`
	SubmitterName string     `json:"submitterName,omitempty"`
	Status        string     `json:"status"`
	ModeratedBy   string     `json:"moderatedBy,omitempty"`
	ModeratedAt   *time.Time `json:"moderatedAt,omitempty"`
	RejectReason  string     `json:"rejectReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type ParliamentNote struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subjectId"`
	ParentID   string    `json:"parentId,omitempty"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName,omitempty"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

package models

import "time"

type RequestStatus string

const (
	StatusNew        RequestStatus = "new"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
)

// Valid reports whether s is one of the stored statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
)

// User is anyone who has talked to the bot.
type User struct {
	ID         int64
	TelegramID int64
	FullName   string
	Username   string // optional @handle
	Role       Role   // recorded at registration; authorization goes through Roster
	CreatedAt  time.Time
}

// Request is a maintenance request reported by a user.
type Request struct {
	ID          int64
	UserID      int64 // users.id of the reporter
	Category    Category
	Location    string // room or office
	Description string
	PhotoRef    string // Telegram file id, empty when none
	Status      RequestStatus
	CreatedAt   time.Time
	AssignedTo  int64 // Telegram id of the last operator who acted, 0 when unassigned
	CompletedAt *time.Time

	// Joined from users
	ReporterTelegramID int64
	ReporterName       string
}

// Draft is the set of fields collected while a request is being created.
type Draft struct {
	Category    Category
	Location    string
	Description string
	PhotoRef    string
}

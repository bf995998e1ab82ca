package sqlite

import "time"

type userRow struct {
	UID                      string `gorm:"primaryKey"`
	Email                    string `gorm:"index"`
	EncryptedDriveCredential string
	DriveConnectedAt         *time.Time
	CreatedAt                time.Time
}

func (userRow) TableName() string { return "users" }

type bagRow struct {
	ID         string `gorm:"primaryKey"`
	HostUID    string `gorm:"index"`
	Name       string
	AccessType string
	FolderRef  string
	CreatedAt  time.Time `gorm:"index"`
}

func (bagRow) TableName() string { return "bags" }

type bagMemberRow struct {
	BagID   string `gorm:"primaryKey"`
	Email   string `gorm:"primaryKey;index"`
	AddedAt time.Time
}

func (bagMemberRow) TableName() string { return "bag_members" }

type invitationRow struct {
	ID        string `gorm:"primaryKey"`
	BagID     string `gorm:"index"`
	BagName   string
	HostUID   string
	ToEmail   string `gorm:"index"`
	Status    string
	CreatedAt time.Time
}

func (invitationRow) TableName() string { return "invitations" }

type requestRow struct {
	BagID     string `gorm:"primaryKey"`
	UID       string `gorm:"primaryKey;index"`
	Email     string
	Status    string
	CreatedAt time.Time
}

func (requestRow) TableName() string { return "access_requests" }

type notificationRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Type      string
	Message   string
	Read      bool              `gorm:"column:is_read"`
	Metadata  map[string]string `gorm:"serializer:json"`
	CreatedAt time.Time
}

func (notificationRow) TableName() string { return "notifications" }

type messageRow struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"uniqueIndex"`
	BagID     string `gorm:"index"`
	Text      string
	UID       string
	Email     string
	CreatedAt time.Time
}

func (messageRow) TableName() string { return "chat_messages" }

package model

type UserStat struct {
	Login     string `gorm:"column:login;type:text;primaryKey"`
	UpdatedAt int64  `gorm:"column:updated_at;not null"`
	Payload   string `gorm:"column:payload;type:text;not null"`
}

func (UserStat) TableName() string {
	return "user_stats"
}

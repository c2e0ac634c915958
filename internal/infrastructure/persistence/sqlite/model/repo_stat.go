package model

type RepoStat struct {
	Owner     string `gorm:"column:owner;type:text;primaryKey"`
	Name      string `gorm:"column:name;type:text;primaryKey"`
	UpdatedAt int64  `gorm:"column:updated_at;not null"`
	Payload   string `gorm:"column:payload;type:text;not null"`
}

func (RepoStat) TableName() string {
	return "repo_stats"
}

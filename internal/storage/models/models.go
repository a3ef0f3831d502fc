package models

import (
	"time"

	"gorm.io/datatypes"
)

// 评估任务状态机: QUEUED -> PROCESSING -> COMPLETED | FAILED
// COMPLETED 和 FAILED 为终态，不会再迁移
const (
	EvaluationStatusQueued     = "QUEUED"
	EvaluationStatusProcessing = "PROCESSING"
	EvaluationStatusCompleted  = "COMPLETED"
	EvaluationStatusFailed     = "FAILED"
)

// Candidate 候选人主表，保存上传文档的落地位置
type Candidate struct {
	CandidateID      string    `gorm:"type:char(36);primaryKey"`
	Name             string    `gorm:"type:varchar(255)"`
	Email            string    `gorm:"type:varchar(255);index:idx_candidates_email"`
	Phone            string    `gorm:"type:varchar(50)"`
	CVFilePath       string    `gorm:"type:varchar(1024)"` // 本地落盘路径
	CVObjectKey      string    `gorm:"type:varchar(1024)"` // MinIO对象键，为空表示未归档
	ProjectFilePath  string    `gorm:"type:varchar(1024)"`
	ProjectObjectKey string    `gorm:"type:varchar(1024)"`
	CreatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// JobVacancy 岗位信息表
type JobVacancy struct {
	JobID          string    `gorm:"type:char(36);primaryKey"`
	Title          string    `gorm:"type:varchar(255);not null"`
	Description    string    `gorm:"type:text;not null"`
	StudyCaseBrief string    `gorm:"type:text"` // 项目案例说明，参与项目评分的上下文
	CreatedAt      time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt      time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (JobVacancy) TableName() string {
	return "job_vacancies"
}

// Evaluation 评估任务表，状态与评分结果都持久化在这里
// 评分字段在COMPLETED之前保持NULL
type Evaluation struct {
	EvaluationID    string         `gorm:"type:char(36);primaryKey"`
	CandidateID     string         `gorm:"type:char(36);not null;index:idx_evaluations_candidate_id"`
	JobID           string         `gorm:"type:char(36);not null;index:idx_evaluations_job_id"`
	Status          string         `gorm:"type:varchar(20);not null;default:'QUEUED';index:idx_evaluations_status"`
	CVMatchRate     *float64       `gorm:"type:decimal(5,2)"` // 0-100
	CVFeedback      *string        `gorm:"type:text"`
	ProjectScore    *float64       `gorm:"type:decimal(4,2)"` // 1-5加权分
	ProjectFeedback *string        `gorm:"type:text"`
	OverallSummary  *string        `gorm:"type:text"`
	RawResultJSON   datatypes.JSON `gorm:"type:json"` // 校验后的完整评分JSON
	ErrorMessage    *string        `gorm:"type:text"` // FAILED时记录失败原因
	CreatedAt       time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt       time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Candidate *Candidate  `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Job       *JobVacancy `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}

// User 登录用户表
type User struct {
	UserID       string    `gorm:"type:char(36);primaryKey"`
	Username     string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_users_username_unique"`
	PasswordHash string    `gorm:"type:varchar(255);not null"` // bcrypt哈希
	CreatedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

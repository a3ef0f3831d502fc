package constants

import "time"

const (
	// 向量库payload中type字段的取值，检索过滤依赖这些常量
	VectorTypeJobDescription   = "job_description"
	VectorTypeScoringRubric    = "scoring_rubric"
	VectorTypeEvaluationResult = "evaluation_result"

	// 岗位向量缓存的默认过期时间
	DefaultJobVectorCacheDuration = 24 * time.Hour

	// 评估任务分布式锁的默认过期时间
	DefaultEvaluationLockTTL = 5 * time.Minute
)

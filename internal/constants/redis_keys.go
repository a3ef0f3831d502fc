package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// JobModulePrefix 岗位模块
	JobModulePrefix = "job"
	// EvaluationModulePrefix 评估模块
	EvaluationModulePrefix = "eval"

	// EntityVector 向量实体
	EntityVector = "vector"
	// EntityLock 分布式锁实体
	EntityLock = "lock"

	// KeyJobVector 岗位文本向量缓存 (STRING, JSON编码的float64数组)
	// 格式: app:job:vector:{jobID}:{kind}
	KeyJobVector = AppPrefix + ":" + JobModulePrefix + ":" + EntityVector + ":%s:%s"

	// KeyEvaluationLock 评估任务分布式锁 (STRING)
	// 格式: app:eval:lock:{evaluationID}
	KeyEvaluationLock = AppPrefix + ":" + EvaluationModulePrefix + ":" + EntityLock + ":%s"
)

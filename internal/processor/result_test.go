package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validResultJSON = `{
	"cv": {
		"technicalSkills": {"score": 4, "reason": "扎实的Go与数据库经验"},
		"experienceLevel": {"score": 3, "reason": "四年后端经验"},
		"achievements": {"score": 4, "reason": "有可量化的性能优化成果"},
		"collaborationFit": {"score": 5, "reason": "跨团队协作经验丰富"},
		"feedback": "简历与岗位高度匹配，建议补充云平台经验。"
	},
	"project": {
		"correctness": {"score": 4, "reason": "实现了完整的RAG链路"},
		"codeQuality": {"score": 3, "reason": "结构清晰但测试不足"},
		"resilience": {"score": 3, "reason": "有重试但缺少退避"},
		"documentation": {"score": 4, "reason": "README完整"},
		"creativity": {"score": 2, "reason": "基本按需求实现"},
		"feedback": "项目完成度高，建议补充容错设计。"
	},
	"summary": "候选人整体匹配度较高，技术能力扎实，项目交付完整。"
}`

// TestParseScoringResult_Valid 合法JSON应解析成功并重新计算加权分
func TestParseScoringResult_Valid(t *testing.T) {
	result, err := ParseScoringResult(validResultJSON)
	require.NoError(t, err, "合法的评估JSON应解析成功")

	// cvWeighted = 4*0.40 + 3*0.25 + 4*0.20 + 5*0.15 = 3.90
	assert.InDelta(t, 3.90, result.CV.WeightedScore, 0.001)
	assert.InDelta(t, 78.0, result.CV.MatchRate, 0.001, "matchRate应为加权分×20")

	// projectWeighted = 4*0.30 + 3*0.25 + 3*0.20 + 4*0.15 + 2*0.10 = 3.35
	assert.InDelta(t, 3.35, result.Project.WeightedScore, 0.001)
	assert.NotEmpty(t, result.Summary)
}

// TestParseScoringResult_MarkdownFence 代码块包装应被剥离
func TestParseScoringResult_MarkdownFence(t *testing.T) {
	wrapped := "```json\n" + validResultJSON + "\n```"
	result, err := ParseScoringResult(wrapped)
	require.NoError(t, err, "带markdown代码块的JSON应解析成功")
	assert.InDelta(t, 78.0, result.CV.MatchRate, 0.001)
}

// TestParseScoringResult_SurroundingText 前后夹杂说明文字时应提取JSON对象
func TestParseScoringResult_SurroundingText(t *testing.T) {
	wrapped := "Here is my evaluation:\n" + validResultJSON + "\nHope this helps."
	_, err := ParseScoringResult(wrapped)
	require.NoError(t, err)
}

// TestParseScoringResult_ScoreOutOfRange 超出1-5范围的得分应拒绝
func TestParseScoringResult_ScoreOutOfRange(t *testing.T) {
	bad := `{
		"cv": {
			"technicalSkills": {"score": 9, "reason": "x"},
			"experienceLevel": {"score": 3, "reason": "x"},
			"achievements": {"score": 3, "reason": "x"},
			"collaborationFit": {"score": 3, "reason": "x"},
			"feedback": "f"
		},
		"project": {
			"correctness": {"score": 3, "reason": "x"},
			"codeQuality": {"score": 3, "reason": "x"},
			"resilience": {"score": 3, "reason": "x"},
			"documentation": {"score": 3, "reason": "x"},
			"creativity": {"score": 3, "reason": "x"},
			"feedback": "f"
		},
		"summary": "s"
	}`
	_, err := ParseScoringResult(bad)
	require.Error(t, err, "超出范围的得分应被拒绝")
	assert.Contains(t, err.Error(), "technicalSkills")
}

// TestParseScoringResult_MissingCriterion 缺少必填维度应拒绝，不能静默补零
func TestParseScoringResult_MissingCriterion(t *testing.T) {
	bad := `{
		"cv": {
			"technicalSkills": {"score": 4, "reason": "x"},
			"experienceLevel": {"score": 3, "reason": "x"},
			"achievements": {"score": 3, "reason": "x"},
			"feedback": "f"
		},
		"project": {
			"correctness": {"score": 3, "reason": "x"},
			"codeQuality": {"score": 3, "reason": "x"},
			"resilience": {"score": 3, "reason": "x"},
			"documentation": {"score": 3, "reason": "x"},
			"creativity": {"score": 3, "reason": "x"},
			"feedback": "f"
		},
		"summary": "s"
	}`
	_, err := ParseScoringResult(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collaborationFit")
}

// TestParseScoringResult_MissingSummary 缺少summary应拒绝
func TestParseScoringResult_MissingSummary(t *testing.T) {
	bad := `{
		"cv": {
			"technicalSkills": {"score": 4, "reason": "x"},
			"experienceLevel": {"score": 3, "reason": "x"},
			"achievements": {"score": 3, "reason": "x"},
			"collaborationFit": {"score": 3, "reason": "x"},
			"feedback": "f"
		},
		"project": {
			"correctness": {"score": 3, "reason": "x"},
			"codeQuality": {"score": 3, "reason": "x"},
			"resilience": {"score": 3, "reason": "x"},
			"documentation": {"score": 3, "reason": "x"},
			"creativity": {"score": 3, "reason": "x"},
			"feedback": "f"
		}
	}`
	_, err := ParseScoringResult(bad)
	require.Error(t, err)
}

// TestParseScoringResult_NotJSON 非JSON内容应拒绝
func TestParseScoringResult_NotJSON(t *testing.T) {
	_, err := ParseScoringResult("I cannot evaluate this candidate.")
	require.Error(t, err)

	_, err = ParseScoringResult("")
	require.Error(t, err)
}

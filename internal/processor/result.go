package processor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// 评分维度权重，固定常量
const (
	WeightCVTechnicalSkills  = 0.40
	WeightCVExperienceLevel  = 0.25
	WeightCVAchievements     = 0.20
	WeightCVCollaborationFit = 0.15

	WeightProjectCorrectness   = 0.30
	WeightProjectCodeQuality   = 0.25
	WeightProjectResilience    = 0.20
	WeightProjectDocumentation = 0.15
	WeightProjectCreativity    = 0.10
)

// CriterionScore 单个评分维度的得分与理由
type CriterionScore struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// CVResult 简历维度的评分结果
// WeightedScore与MatchRate由服务端根据维度得分重新计算，不信任LLM的算术
type CVResult struct {
	TechnicalSkills  *CriterionScore `json:"technicalSkills"`
	ExperienceLevel  *CriterionScore `json:"experienceLevel"`
	Achievements     *CriterionScore `json:"achievements"`
	CollaborationFit *CriterionScore `json:"collaborationFit"`
	Feedback         string          `json:"feedback"`
	WeightedScore    float64         `json:"weightedScore"`
	MatchRate        float64         `json:"matchRate"`
}

// ProjectResult 项目报告维度的评分结果
type ProjectResult struct {
	Correctness   *CriterionScore `json:"correctness"`
	CodeQuality   *CriterionScore `json:"codeQuality"`
	Resilience    *CriterionScore `json:"resilience"`
	Documentation *CriterionScore `json:"documentation"`
	Creativity    *CriterionScore `json:"creativity"`
	Feedback      string          `json:"feedback"`
	WeightedScore float64         `json:"weightedScore"`
}

// ScoringResult LLM评估的结构化输出
type ScoringResult struct {
	CV      *CVResult      `json:"cv"`
	Project *ProjectResult `json:"project"`
	Summary string         `json:"summary"`
}

// ParseScoringResult 严格解析LLM返回的评估JSON
// 任何必填维度缺失或得分超出1-5范围都视为解析失败，不做静默补零
func ParseScoringResult(raw string) (*ScoringResult, error) {
	cleaned := stripMarkdownFence(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("LLM返回内容为空")
	}

	var result ScoringResult
	decoder := json.NewDecoder(strings.NewReader(cleaned))
	if err := decoder.Decode(&result); err != nil {
		return nil, fmt.Errorf("解析评估JSON失败: %w", err)
	}

	if err := result.validate(); err != nil {
		return nil, err
	}

	result.computeWeightedScores()
	return &result, nil
}

// stripMarkdownFence 去掉LLM常见的```json代码块包装
func stripMarkdownFence(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	// 容错：包装文本中嵌着JSON对象的情况，取第一个{到最后一个}
	if !strings.HasPrefix(s, "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start >= 0 && end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func (r *ScoringResult) validate() error {
	if r.CV == nil {
		return fmt.Errorf("缺少cv评分块")
	}
	if r.Project == nil {
		return fmt.Errorf("缺少project评分块")
	}
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("缺少summary字段")
	}

	cvCriteria := map[string]*CriterionScore{
		"cv.technicalSkills":  r.CV.TechnicalSkills,
		"cv.experienceLevel":  r.CV.ExperienceLevel,
		"cv.achievements":     r.CV.Achievements,
		"cv.collaborationFit": r.CV.CollaborationFit,
	}
	projectCriteria := map[string]*CriterionScore{
		"project.correctness":   r.Project.Correctness,
		"project.codeQuality":   r.Project.CodeQuality,
		"project.resilience":    r.Project.Resilience,
		"project.documentation": r.Project.Documentation,
		"project.creativity":    r.Project.Creativity,
	}

	for name, criterion := range cvCriteria {
		if err := validateCriterion(name, criterion); err != nil {
			return err
		}
	}
	for name, criterion := range projectCriteria {
		if err := validateCriterion(name, criterion); err != nil {
			return err
		}
	}

	if strings.TrimSpace(r.CV.Feedback) == "" {
		return fmt.Errorf("缺少cv.feedback字段")
	}
	if strings.TrimSpace(r.Project.Feedback) == "" {
		return fmt.Errorf("缺少project.feedback字段")
	}
	return nil
}

func validateCriterion(name string, criterion *CriterionScore) error {
	if criterion == nil {
		return fmt.Errorf("缺少评分维度 %s", name)
	}
	if criterion.Score < 1 || criterion.Score > 5 {
		return fmt.Errorf("评分维度 %s 的得分 %.2f 超出1-5范围", name, criterion.Score)
	}
	return nil
}

// computeWeightedScores 按固定权重重新计算加权分与匹配率
func (r *ScoringResult) computeWeightedScores() {
	cvWeighted := r.CV.TechnicalSkills.Score*WeightCVTechnicalSkills +
		r.CV.ExperienceLevel.Score*WeightCVExperienceLevel +
		r.CV.Achievements.Score*WeightCVAchievements +
		r.CV.CollaborationFit.Score*WeightCVCollaborationFit

	projectWeighted := r.Project.Correctness.Score*WeightProjectCorrectness +
		r.Project.CodeQuality.Score*WeightProjectCodeQuality +
		r.Project.Resilience.Score*WeightProjectResilience +
		r.Project.Documentation.Score*WeightProjectDocumentation +
		r.Project.Creativity.Score*WeightProjectCreativity

	r.CV.WeightedScore = round2(cvWeighted)
	r.CV.MatchRate = round2(cvWeighted * 20)
	r.Project.WeightedScore = round2(projectWeighted)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

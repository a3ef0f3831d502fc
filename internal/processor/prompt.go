package processor

import (
	"fmt"
	"strings"

	"cv-evaluator-go/internal/llm"
)

const evaluatorSystemPrompt = `You are an expert technical recruiter and engineering manager.
You evaluate a candidate's CV and project report against a specific job vacancy.
You are rigorous, evidence-based, and you never invent facts that are not present in the provided material.
You always answer with a single JSON object and nothing else: no markdown, no code fences, no commentary.`

// scoringRubricText 固定评分标准文本，作为岗位上下文的一部分入库检索
const scoringRubricText = `Scoring rubric (all criteria scored 1-5):

CV evaluation criteria:
- technicalSkills (weight 0.40): match of backend, databases, APIs, cloud and AI/LLM exposure with the job requirements.
- experienceLevel (weight 0.25): years of experience and complexity of past projects.
- achievements (weight 0.20): measurable impact of past work (scale, performance, adoption).
- collaborationFit (weight 0.15): communication, teamwork and learning attitude signals.

Project report evaluation criteria:
- correctness (weight 0.30): does the implementation meet the requirements (prompt design, chaining, RAG, error handling).
- codeQuality (weight 0.25): clean, modular, testable code.
- resilience (weight 0.20): handling of failures, retries, long-running jobs.
- documentation (weight 0.15): clear README, setup instructions, design explanation.
- creativity (weight 0.10): extras beyond the base requirements.

Scoring guidelines: 1 = not demonstrated, 2 = minimal, 3 = adequate, 4 = strong, 5 = exceptional.`

// PromptInput 构建评估提示词所需的全部材料
type PromptInput struct {
	JobTitle       string
	JobDescription string
	StudyCaseBrief string
	CVText         string
	ProjectText    string
	CVContext      []string
	ProjectContext []string
	CVValid        bool
	ProjectValid   bool
	JobValid       bool
}

// BuildEvaluationMessages 组装评估对话
// 校验标记只写入提示词供模型参考，内容过短不会中止评估
func BuildEvaluationMessages(input PromptInput) []llm.Message {
	var sb strings.Builder

	sb.WriteString("Evaluate the candidate below for the following job vacancy.\n\n")

	sb.WriteString("## Job vacancy\n")
	fmt.Fprintf(&sb, "Title: %s\n\n", input.JobTitle)
	fmt.Fprintf(&sb, "Description:\n%s\n\n", input.JobDescription)
	if strings.TrimSpace(input.StudyCaseBrief) != "" {
		fmt.Fprintf(&sb, "Study case brief:\n%s\n\n", input.StudyCaseBrief)
	}

	sb.WriteString("## Rubric\n")
	sb.WriteString(scoringRubricText)
	sb.WriteString("\n\n")

	if len(input.CVContext) > 0 {
		sb.WriteString("## Retrieved job context relevant to the CV\n")
		writeSnippets(&sb, input.CVContext)
	}
	if len(input.ProjectContext) > 0 {
		sb.WriteString("## Retrieved job context relevant to the project report\n")
		writeSnippets(&sb, input.ProjectContext)
	}

	sb.WriteString("## Content validation\n")
	fmt.Fprintf(&sb, "- Job description usable: %v\n", input.JobValid)
	fmt.Fprintf(&sb, "- CV content usable: %v\n", input.CVValid)
	fmt.Fprintf(&sb, "- Project report content usable: %v\n", input.ProjectValid)
	sb.WriteString("If a document is marked unusable or its text looks empty/garbled, score its criteria accordingly and explain why in the feedback.\n\n")

	sb.WriteString("## Candidate CV\n")
	sb.WriteString(orPlaceholder(input.CVText))
	sb.WriteString("\n\n## Candidate project report\n")
	sb.WriteString(orPlaceholder(input.ProjectText))

	sb.WriteString("\n\n## Output format\n")
	sb.WriteString(`Return exactly one JSON object with this shape, scores as numbers from 1 to 5:
{
  "cv": {
    "technicalSkills": {"score": 1-5, "reason": "..."},
    "experienceLevel": {"score": 1-5, "reason": "..."},
    "achievements": {"score": 1-5, "reason": "..."},
    "collaborationFit": {"score": 1-5, "reason": "..."},
    "feedback": "2-4 sentences of actionable feedback on the CV"
  },
  "project": {
    "correctness": {"score": 1-5, "reason": "..."},
    "codeQuality": {"score": 1-5, "reason": "..."},
    "resilience": {"score": 1-5, "reason": "..."},
    "documentation": {"score": 1-5, "reason": "..."},
    "creativity": {"score": 1-5, "reason": "..."},
    "feedback": "2-4 sentences of actionable feedback on the project report"
  },
  "summary": "3-5 sentences overall assessment of the candidate"
}
Do not add any field. Do not wrap the JSON in markdown.`)

	return []llm.Message{
		{Role: "system", Content: evaluatorSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

func writeSnippets(sb *strings.Builder, snippets []string) {
	for i, snippet := range snippets {
		fmt.Fprintf(sb, "%d. %s\n", i+1, strings.TrimSpace(snippet))
	}
	sb.WriteString("\n")
}

func orPlaceholder(text string) string {
	if strings.TrimSpace(text) == "" {
		return "(no usable text could be extracted from this document)"
	}
	return text
}

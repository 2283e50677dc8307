package scheduler

import (
	"fmt"
	"strings"

	"github.com/LX-HMKK/SparkBox/pkg/types"
)

// formatSolutionText renders a SolutionResult into the fixed human-readable
// block persisted as the assistant's text turn, matching
// ai_manager.py's _format_solution_text section-by-section exactly
// (project name / core idea / materials / steps / learning outcomes,
// blank-line separated, skipping any empty section).
func formatSolutionText(s types.SolutionResult) string {
	var parts []string

	if s.ProjectName != "" {
		parts = append(parts, "项目名称："+s.ProjectName)
	}
	if s.CoreIdea != "" {
		parts = append(parts, "核心思路："+s.CoreIdea)
	}
	if len(s.Materials) > 0 {
		parts = append(parts, "材料清单："+strings.Join(s.Materials, "、"))
	}
	if len(s.Steps) > 0 {
		var lines []string
		for i, step := range s.Steps {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, step))
		}
		parts = append(parts, "制作步骤：\n"+strings.Join(lines, "\n"))
	}
	if len(s.LearningOutcomes) > 0 {
		var lines []string
		for _, outcome := range s.LearningOutcomes {
			lines = append(lines, "- "+outcome)
		}
		parts = append(parts, "学习收获：\n"+strings.Join(lines, "\n"))
	}

	return strings.Join(parts, "\n\n")
}

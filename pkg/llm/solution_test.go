package llm

import (
	"strings"
	"testing"

	"github.com/LX-HMKK/SparkBox/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestBuildSolutionPrompt_MinimalGenerate(t *testing.T) {
	vision := types.VisionResult{ProjectTitle: "Birdhouse sketch"}

	prompt, err := buildSolutionPrompt("design a maker project", vision, nil, nil, "")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(prompt, "design a maker project"))
	require.Contains(t, prompt, "Birdhouse sketch")
	require.NotContains(t, prompt, "当前方案")
	require.NotContains(t, prompt, "对话历史")
	require.NotContains(t, prompt, "用户反馈")
}

func TestBuildSolutionPrompt_ChatIncludesOrderedSections(t *testing.T) {
	vision := types.VisionResult{ProjectTitle: "Kite sketch"}
	current := &types.SolutionResult{ProjectName: "Delta kite"}
	history := []types.Turn{
		{Role: types.RoleUser, Type: types.TurnText, Content: "make the tail longer"},
		{Role: types.RoleAssistant, Type: types.TurnText, Content: "updated materials list"},
		{Role: types.RoleUser, Type: types.TurnImage, Content: "images/canvas.jpg"},
	}

	prompt, err := buildSolutionPrompt("design a maker project", vision, current, history, "use bamboo instead")
	require.NoError(t, err)

	visionIdx := strings.Index(prompt, "Kite sketch")
	currentIdx := strings.Index(prompt, "Delta kite")
	historyIdx := strings.Index(prompt, "make the tail longer")
	feedbackIdx := strings.Index(prompt, "use bamboo instead")

	require.True(t, visionIdx < currentIdx)
	require.True(t, currentIdx < historyIdx)
	require.True(t, historyIdx < feedbackIdx)
	require.NotContains(t, prompt, "images/canvas.jpg")
}

func TestBuildSolutionPrompt_AppendsJSONOnlyInstruction(t *testing.T) {
	prompt, err := buildSolutionPrompt("base", types.VisionResult{}, nil, nil, "")
	require.NoError(t, err)
	require.Contains(t, prompt, solutionJSONInstruction)
}

func TestBuildChatSystemPrompt_OmitsHistoryAndJSONInstruction(t *testing.T) {
	vision := types.VisionResult{ProjectTitle: "Kite sketch"}
	current := &types.SolutionResult{ProjectName: "Delta kite"}

	prompt, err := buildChatSystemPrompt("design a maker project", vision, current)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(prompt, "design a maker project"))
	require.Contains(t, prompt, "Kite sketch")
	require.Contains(t, prompt, "Delta kite")
	require.NotContains(t, prompt, solutionJSONInstruction)
}

func TestBuildChatSystemPrompt_OmitsCurrentSolutionWhenNil(t *testing.T) {
	prompt, err := buildChatSystemPrompt("base", types.VisionResult{}, nil)
	require.NoError(t, err)
	require.NotContains(t, prompt, "当前方案")
}

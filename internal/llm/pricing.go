package llm

// Cost per 1K tokens for the Bedrock models the generator may be pointed at.
var modelCosts = map[string]struct {
	input  float64
	output float64
}{
	"anthropic.claude-3-sonnet-20240229-v1:0": {
		input:  0.003, // $3.00 per 1M input tokens
		output: 0.015, // $15.00 per 1M output tokens
	},
	"anthropic.claude-3-haiku-20240307-v1:0": {
		input:  0.00025, // $0.25 per 1M input tokens
		output: 0.00125, // $1.25 per 1M output tokens
	},
	"anthropic.claude-3-opus-20240229-v1:0": {
		input:  0.015, // $15.00 per 1M input tokens
		output: 0.075, // $75.00 per 1M output tokens
	},
}

const defaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"

// EstimateLLMCost estimates the USD cost of a request from its token usage.
// Unknown models are priced as Claude 3 Sonnet.
func EstimateLLMCost(inputTokens, outputTokens int, model string) float64 {
	costs, exists := modelCosts[model]
	if !exists {
		costs = modelCosts[defaultModel]
	}

	inputCost := (float64(inputTokens) / 1000.0) * costs.input
	outputCost := (float64(outputTokens) / 1000.0) * costs.output

	return inputCost + outputCost
}

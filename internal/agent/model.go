package agent

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
)

// ErrEmptyResponse is returned when a model answers without any choice.
var ErrEmptyResponse = errors.New("model returned no choices")

type ModelRequest struct {
	Messages    []llms.MessageContent
	Temperature float64
	Tools       []llms.Tool
}

type ModelResponse struct {
	Content   string
	ToolCalls []llms.ToolCall
}

// ModelService is the reasoning backend of the agent.
type ModelService interface {
	Call(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// LLMService adapts a langchaingo model. Only the first choice is used.
type LLMService struct {
	Model llms.Model
}

func NewLLMService(model llms.Model) *LLMService {
	return &LLMService{Model: model}
}

func (s *LLMService) Call(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(req.Tools))
	}

	resp, err := s.Model.GenerateContent(ctx, req.Messages, opts...)
	if err != nil {
		return ModelResponse{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return ModelResponse{}, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	return ModelResponse{Content: choice.Content, ToolCalls: choice.ToolCalls}, nil
}

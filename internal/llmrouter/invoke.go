package llmrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"agentloop/internal/engerrors"
	"agentloop/internal/ports"
	"agentloop/internal/tokenutil"
)

// InvokeResult is the Backend Router's per-call output (spec.md §4.6):
// {text, inputTokens, outputTokens, costUsd, model, toolLog[]}.
type InvokeResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Model        string
	ToolLog      []ToolLogEntry
}

// ToolLogEntry records one tool-call round executed during the loop.
type ToolLogEntry struct {
	Name   string
	Params map[string]any
	Result ports.ToolResult
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type invokeResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// toolCallRe extracts `<tool_call name="...">{json}</tool_call>` tags. The
// Response Parser (internal/directive) owns every other tag; tool_call is
// handled inline here per spec.md §4.8 ("handled in router loop, not
// dispatcher").
var toolCallRe = regexp.MustCompile(`(?s)<tool_call name="([^"]+)">(.*?)</tool_call>`)

// Invoke runs the tool-use loop against route.Backend: send -> parse
// <tool_call> tags -> execute through the tool bridge -> append a "Tool
// results" turn -> repeat up to MaxToolRounds or until no calls remain. On
// failure of a free/local backend it falls back to the first healthy paid
// backend (spec.md §4.6 "Fallback").
func (r *Router) Invoke(ctx context.Context, route RoutingResult, prompt string) (InvokeResult, error) {
	if route.Backend.Name == "" {
		return InvokeResult{}, engerrors.NewPermanentError(errors.New("no backend selected"), "llmrouter: empty routing result")
	}

	result, err := r.runToolLoop(ctx, route.Backend, prompt)
	if err == nil {
		r.recordSuccess(route.Backend.Name)
		return result, nil
	}
	r.recordFailure(route.Backend.Name)
	if route.Tier == TierPaid {
		return InvokeResult{}, err
	}

	paid, ok := r.firstHealthy(TierPaid)
	if !ok {
		return InvokeResult{}, err
	}
	fallback, ferr := r.runToolLoop(ctx, paid, prompt)
	if ferr != nil {
		r.recordFailure(paid.Name)
		return InvokeResult{}, ferr
	}
	r.recordSuccess(paid.Name)
	return fallback, nil
}

func (r *Router) runToolLoop(ctx context.Context, b Backend, prompt string) (InvokeResult, error) {
	if !r.breakerFor(b.Name).Allow() {
		return InvokeResult{}, &engerrors.ErrCircuitOpen{Backend: b.Name}
	}

	messages := []wireMessage{{Role: "user", Content: prompt}}
	var toolLog []ToolLogEntry
	var totalIn, totalOut int
	var finalText string

	for round := 0; round < r.maxToolRounds; round++ {
		resp, err := r.send(ctx, b, messages)
		if err != nil {
			return InvokeResult{}, err
		}
		totalIn += resp.InputTokens
		totalOut += resp.OutputTokens
		finalText = resp.Text

		calls := parseToolCalls(resp.Text)
		if len(calls) == 0 {
			break
		}
		if r.toolBridge == nil {
			break
		}
		messages = append(messages, wireMessage{Role: "assistant", Content: resp.Text})
		var results strings.Builder
		results.WriteString("Tool results:\n")
		for _, call := range calls {
			tr, terr := r.toolBridge.ExecuteTool(ctx, call.Name, call.Params)
			if terr != nil {
				tr = ports.ToolResult{Success: false, Error: terr.Error()}
			}
			toolLog = append(toolLog, ToolLogEntry{Name: call.Name, Params: call.Params, Result: tr})
			fmt.Fprintf(&results, "- %s: success=%v result=%v error=%s\n", call.Name, tr.Success, tr.Result, tr.Error)
		}
		messages = append(messages, wireMessage{Role: "user", Content: results.String()})
	}

	return InvokeResult{
		Text:         finalText,
		InputTokens:  totalIn,
		OutputTokens: totalOut,
		CostUSD:      0, // backends are free to omit cost; treated as 0 per spec.md §4.6
		Model:        b.Model,
		ToolLog:      toolLog,
	}, nil
}

type toolCall struct {
	Name   string
	Params map[string]any
}

func parseToolCalls(text string) []toolCall {
	matches := toolCallRe.FindAllStringSubmatch(text, -1)
	calls := make([]toolCall, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		params := map[string]any{}
		body := strings.TrimSpace(m[2])
		if body != "" {
			if err := json.Unmarshal([]byte(body), &params); err != nil {
				// Parser contract (spec.md §4.8): malformed bodies don't drop
				// the directive here; empty params still dispatch the call.
				params = map[string]any{}
			}
		}
		calls = append(calls, toolCall{Name: name, Params: params})
	}
	return calls
}

func (r *Router) sendHTTP(ctx context.Context, b Backend, messages []wireMessage) (invokeResponse, error) {
	reqBody, err := json.Marshal(chatCompletionRequest{Model: b.Model, Messages: messages})
	if err != nil {
		return invokeResponse{}, engerrors.NewPermanentError(err, "llmrouter: marshal request")
	}

	url := strings.TrimRight(b.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return invokeResponse{}, engerrors.NewPermanentError(err, "llmrouter: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return invokeResponse{}, engerrors.NewTransientError(err, fmt.Sprintf("llmrouter: %s request failed", b.Name))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return invokeResponse{}, engerrors.NewTransientError(fmt.Errorf("http %d", resp.StatusCode), fmt.Sprintf("llmrouter: %s server error", b.Name))
	}
	if resp.StatusCode >= 400 {
		return invokeResponse{}, engerrors.NewPermanentError(fmt.Errorf("http %d", resp.StatusCode), fmt.Sprintf("llmrouter: %s client error", b.Name))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return invokeResponse{}, engerrors.NewTransientError(err, "llmrouter: decode response")
	}
	if len(parsed.Choices) == 0 {
		return invokeResponse{}, engerrors.NewTransientError(errors.New("empty choices"), "llmrouter: empty response")
	}

	text := parsed.Choices[0].Message.Content
	inTok, outTok := 0, 0
	if parsed.Usage != nil {
		inTok, outTok = parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
	} else {
		for _, m := range messages {
			inTok += tokenutil.CountTokens(m.Content)
		}
		outTok = tokenutil.CountTokens(text)
	}
	return invokeResponse{Text: text, InputTokens: inTok, OutputTokens: outTok}, nil
}

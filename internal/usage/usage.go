// Package usage derives token counts and cost from a request/response pair.
//
// DESIGN: Provider-reported token counts are authoritative whenever present
// and non-zero; local tiktoken counts are the fallback, applied the same
// way on every code path (streamed and not). Usage absence is a normal
// terminal state (erroring or content-free calls), not a failure.
package usage

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"

	"github.com/openpipe/completions-gateway/internal/provider"
)

// fallbackEncoding is used for models tiktoken does not know (custom
// models, newer upstream names).
const fallbackEncoding = "cl100k_base"

// Usage is the derived accounting for one completion exchange. A nil
// *Usage means "unset": computation was not possible or the response was
// content-free.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Calculate derives usage for one exchange. rec is non-nil for custom
// models and supplies their cost basis; upstream models use the pricing
// table. Returns nil when resp is absent or content-free.
func Calculate(req *provider.Request, resp *provider.Completion, rec *provider.CustomModelRecord) *Usage {
	if req == nil || resp == nil {
		return nil
	}
	if resp.Usage == nil && len(resp.Choices) == 0 {
		return nil
	}

	u := &Usage{}

	// Provider-reported counts win; tokenize locally only for what the
	// provider did not report.
	if resp.Usage != nil && resp.Usage.PromptTokens > 0 {
		u.InputTokens = resp.Usage.PromptTokens
	} else {
		u.InputTokens = countRequestTokens(req)
	}
	if resp.Usage != nil && resp.Usage.CompletionTokens > 0 {
		u.OutputTokens = resp.Usage.CompletionTokens
	} else {
		u.OutputTokens = countResponseTokens(req.Model, resp)
	}

	if rec != nil {
		pricing := ModelPricing{InputPerMTok: rec.InputCostPerMTok, OutputPerMTok: rec.OutputCostPerMTok}
		u.Cost = CalculateCost(u.InputTokens, u.OutputTokens, pricing)
	} else {
		u.Cost = CalculateCost(u.InputTokens, u.OutputTokens, GetModelPricing(req.Model))
	}
	return u
}

// countRequestTokens tokenizes the request's message and function content.
func countRequestTokens(req *provider.Request) int {
	enc := encodingFor(req.Model)
	if enc == nil {
		return 0
	}

	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Role)
		b.WriteByte('\n')
		b.WriteString(contentText(m.Content))
		b.WriteByte('\n')
		if m.Name != "" {
			b.WriteString(m.Name)
			b.WriteByte('\n')
		}
		if len(m.FunctionCall) > 0 {
			b.Write(m.FunctionCall)
		}
		if len(m.ToolCalls) > 0 {
			b.Write(m.ToolCalls)
		}
	}
	if len(req.Functions) > 0 {
		b.Write(req.Functions)
	}
	if len(req.Tools) > 0 {
		b.Write(req.Tools)
	}
	return len(enc.Encode(b.String(), nil, nil))
}

// countResponseTokens tokenizes generated content across all choices.
func countResponseTokens(model string, resp *provider.Completion) int {
	enc := encodingFor(model)
	if enc == nil {
		return 0
	}

	var b strings.Builder
	for _, c := range resp.Choices {
		b.WriteString(contentText(c.Message.Content))
		if len(c.Message.FunctionCall) > 0 {
			b.Write(c.Message.FunctionCall)
		}
		if len(c.Message.ToolCalls) > 0 {
			b.Write(c.Message.ToolCalls)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	return len(enc.Encode(b.String(), nil, nil))
}

// contentText flattens message content, which may be a plain string or an
// array of content parts, into the text the tokenizer should see.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	parsed := gjson.ParseBytes(raw)
	switch {
	case parsed.Type == gjson.String:
		return parsed.String()
	case parsed.IsArray():
		var b strings.Builder
		parsed.ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Exists() {
				b.WriteString(t.String())
			}
			return true
		})
		return b.String()
	default:
		return parsed.Raw
	}
}

func encodingFor(model string) *tiktoken.Tiktoken {
	model = strings.TrimPrefix(model, provider.CustomModelPrefix)
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc
	}
	enc, err := tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil
	}
	return enc
}

// AssembleChunks folds streamed completion chunks into a best-effort
// Completion for accounting. Content deltas are concatenated per choice
// index; identity fields and usage are last-seen-wins, matching how
// providers emit usage on the final chunk.
func AssembleChunks(chunks [][]byte) *provider.Completion {
	if len(chunks) == 0 {
		return nil
	}

	type partial struct {
		content      strings.Builder
		functionCall strings.Builder
		finish       string
		role         string
	}
	choices := map[int]*partial{}
	completion := &provider.Completion{Object: "chat.completion"}

	for _, chunk := range chunks {
		parsed := gjson.ParseBytes(chunk)
		if id := parsed.Get("id").String(); id != "" {
			completion.ID = id
		}
		if model := parsed.Get("model").String(); model != "" {
			completion.Model = model
		}
		if created := parsed.Get("created").Int(); created != 0 {
			completion.Created = created
		}
		if u := parsed.Get("usage"); u.IsObject() {
			completion.Usage = &provider.ReportedUsage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}

		parsed.Get("choices").ForEach(func(_, choice gjson.Result) bool {
			idx := int(choice.Get("index").Int())
			p := choices[idx]
			if p == nil {
				p = &partial{}
				choices[idx] = p
			}
			delta := choice.Get("delta")
			if role := delta.Get("role").String(); role != "" {
				p.role = role
			}
			if content := delta.Get("content"); content.Type == gjson.String {
				p.content.WriteString(content.String())
			}
			if fc := delta.Get("function_call.arguments"); fc.Exists() {
				p.functionCall.WriteString(fc.String())
			}
			if fin := choice.Get("finish_reason").String(); fin != "" {
				p.finish = fin
			}
			return true
		})
	}

	indexes := make([]int, 0, len(choices))
	for idx := range choices {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		p := choices[idx]
		role := p.role
		if role == "" {
			role = "assistant"
		}
		msg := provider.Message{Role: role}
		if p.content.Len() > 0 {
			encoded, _ := json.Marshal(p.content.String())
			msg.Content = encoded
		}
		if p.functionCall.Len() > 0 {
			encoded, _ := json.Marshal(map[string]string{"arguments": p.functionCall.String()})
			msg.FunctionCall = encoded
		}
		completion.Choices = append(completion.Choices, provider.Choice{
			Index:        idx,
			Message:      msg,
			FinishReason: p.finish,
		})
	}

	if completion.Usage == nil && len(completion.Choices) == 0 {
		return nil
	}
	return completion
}

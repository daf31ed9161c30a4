package guardrail

import (
	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/prompts"
)

// KoreaCityVerdict is the weather input classifier's answer.
type KoreaCityVerdict struct {
	IsKoreaCity bool   `json:"is_korea_city"`
	Reason      string `json:"reason"`
}

// KoreaCity trips on weather requests for places outside Korea.
func KoreaCity(client llm.Client, model string) Guardrail {
	schema := &llm.Schema{
		Name: "korea_city",
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"is_korea_city": {Type: "boolean", Description: "대한민국 지역 여부"},
			"reason":        {Type: "string", Description: "사용자 안내 문장"},
		},
		Required: []string{"is_korea_city", "reason"},
	}
	return NewClassifier("korea_city", client, model, prompts.KoreaCityGuardrail, schema,
		func(v KoreaCityVerdict) Outcome {
			if v.IsKoreaCity {
				return Pass()
			}
			return Trip(v.Reason)
		})
}

// News request classes.
const (
	NewsSpecificTime    = "specific_time_error"
	NewsSpecificKeyword = "specific_keyword_error"
	NewsWrongInput      = "wrong_user_input"
	NewsVerified        = "verified_user_input"
)

// NewsRequestVerdict is the news input classifier's answer.
type NewsRequestVerdict struct {
	Result string `json:"result"`
	Answer string `json:"answer"`
}

// NewsRequest trips on anything but a plain section request: specific
// dates, keyword filters, and off-topic questions.
func NewsRequest(client llm.Client, model string) Guardrail {
	schema := &llm.Schema{
		Name: "news_request",
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"result": {
				Type: "string",
				Enum: []string{NewsSpecificTime, NewsSpecificKeyword, NewsWrongInput, NewsVerified},
			},
			"answer": {Type: "string", Description: "평가와 올바른 요청 안내"},
		},
		Required: []string{"result", "answer"},
	}
	return NewClassifier("news_request", client, model, prompts.NewsInputGuardrail, schema,
		func(v NewsRequestVerdict) Outcome {
			if v.Result == NewsVerified {
				return Pass()
			}
			return Trip(v.Answer)
		})
}

// NewsGroundedVerdict is the news output classifier's answer.
type NewsGroundedVerdict struct {
	IsNewsExist bool   `json:"is_news_exist"`
	Reason      string `json:"reason"`
}

// NewsGrounded trips on news answers not backed by real articles.
func NewsGrounded(client llm.Client, model string) Guardrail {
	schema := &llm.Schema{
		Name: "news_grounded",
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"is_news_exist": {Type: "boolean"},
			"reason":        {Type: "string"},
		},
		Required: []string{"is_news_exist", "reason"},
	}
	return NewClassifier("news_grounded", client, model, prompts.NewsOutputGuardrail, schema,
		func(v NewsGroundedVerdict) Outcome {
			if v.IsNewsExist {
				return Pass()
			}
			return Trip(v.Reason)
		})
}

// TransitVerdict is the subway output classifier's answer.
type TransitVerdict struct {
	IsHallucination bool   `json:"is_hallucination"`
	Answer          string `json:"answer"`
}

// TransitHallucination trips on arrival answers that invent trains.
func TransitHallucination(client llm.Client, model string) Guardrail {
	schema := &llm.Schema{
		Name: "transit_hallucination",
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"is_hallucination": {Type: "boolean"},
			"answer":           {Type: "string"},
		},
		Required: []string{"is_hallucination", "answer"},
	}
	return NewClassifier("transit_hallucination", client, model, prompts.SubwayOutputGuardrail, schema,
		func(v TransitVerdict) Outcome {
			if v.IsHallucination {
				return Trip(v.Answer)
			}
			return Pass()
		})
}

package router

import (
	"errors"

	"github.com/nugget/aline-bot/internal/capability"
	"github.com/nugget/aline-bot/internal/extractor"
	"github.com/nugget/aline-bot/internal/guardrail"
	"github.com/nugget/aline-bot/internal/handler"
	"github.com/nugget/aline-bot/internal/llm"
	"github.com/nugget/aline-bot/internal/prompts"
	"github.com/nugget/aline-bot/internal/tools"
)

// DefaultHandlerMaxTurns bounds each specialist's own tool loop when
// Models leaves it unset.
const DefaultHandlerMaxTurns = 3

// Models names the model used for each role and the specialists' turn
// bound.
type Models struct {
	Handler   string
	Guardrail string
	MaxTurns  int
}

// Capabilities are the adapters the specialists are built over. A nil
// adapter group leaves its handler out of the table.
type Capabilities struct {
	Geocoder  *capability.Geocoder
	Weather   *capability.Weather
	News      *capability.News
	Stations  *capability.Stations
	Transit   *capability.Transit
	Extractor *extractor.Extractor
	Users     extractor.UserStore
}

// Handlers builds the specialist definitions for the router table.
func Handlers(client llm.Client, m Models, caps Capabilities) ([]*handler.Handler, error) {
	var defs []handler.Handler

	if caps.Geocoder != nil && caps.Weather != nil {
		defs = append(defs, handler.Handler{
			Name:            "weather",
			Instructions:    prompts.WeatherInstructions,
			Tools:           tools.NewRegistry(capability.WeatherTools(caps.Geocoder, caps.Weather)...),
			InputGuardrails: []guardrail.Guardrail{guardrail.KoreaCity(client, m.Guardrail)},
		})
	}
	if caps.News != nil {
		defs = append(defs, handler.Handler{
			Name:             "news",
			Instructions:     prompts.NewsInstructions(capability.SectionNames()),
			Tools:            tools.NewRegistry(capability.NewsTools(caps.News)...),
			InputGuardrails:  []guardrail.Guardrail{guardrail.NewsRequest(client, m.Guardrail)},
			OutputGuardrails: []guardrail.Guardrail{guardrail.NewsGrounded(client, m.Guardrail)},
		})
	}
	if caps.Stations != nil && caps.Transit != nil {
		defs = append(defs, handler.Handler{
			Name:             "subway",
			Instructions:     prompts.SubwayInstructions,
			Tools:            tools.NewRegistry(capability.TransitTools(caps.Stations, caps.Transit)...),
			OutputGuardrails: []guardrail.Guardrail{guardrail.TransitHallucination(client, m.Guardrail)},
		})
	}
	if caps.Extractor != nil && caps.Users != nil {
		defs = append(defs, handler.Handler{
			Name:         "schedule",
			Instructions: prompts.ScheduleInstructions,
			Tools:        tools.NewRegistry(extractor.Tools(caps.Extractor, caps.Users)...),
		})
	}

	if m.MaxTurns == 0 {
		m.MaxTurns = DefaultHandlerMaxTurns
	}
	var (
		out  []*handler.Handler
		errs []error
	)
	for _, d := range defs {
		d.Model = m.Handler
		d.MaxTurns = m.MaxTurns
		h, err := handler.New(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, h)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

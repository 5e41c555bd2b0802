package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/vango-go/vai-switchboard/pkg/agents/tools"
)

type weatherArgs struct {
	City string `json:"city" desc:"City to look the weather up for."`
}

type dishPriceArgs struct {
	Dish string `json:"dish" desc:"Name of the dish to price."`
}

type interestArgs struct {
	Amount float64 `json:"amount" desc:"Principal amount."`
	Rate   float64 `json:"rate" desc:"Annual interest rate as a percentage."`
	Years  int     `json:"years" desc:"Number of years."`
}

// builtinRegistry wires the stock demo tools plus the handoff tool.
// Agents opt into individual tools by name in the roster file.
func builtinRegistry(logger *slog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry()

	weather, err := tools.NewUserTool("get_weather", "Gets the current weather for a given city.",
		func(ctx context.Context, in weatherArgs) (string, error) {
			return fmt.Sprintf("The weather in %s is %d°C.", in.City, 18+rand.Intn(25)), nil
		})
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterUser(weather); err != nil {
		return nil, err
	}

	dishPrice, err := tools.NewUserTool("get_dish_price", "Gets the price of a given dish.",
		func(ctx context.Context, in dishPriceArgs) (string, error) {
			return fmt.Sprintf("The price of %s is $%d.", in.Dish, 100+rand.Intn(401)), nil
		})
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterUser(dishPrice); err != nil {
		return nil, err
	}

	interest, err := tools.NewUserTool("calculate_interest", "Calculates simple interest for an amount at an annual rate over a number of years.",
		func(ctx context.Context, in interestArgs) (string, error) {
			total := in.Amount * (in.Rate / 100) * float64(in.Years)
			return fmt.Sprintf("The interest on %.2f at %.2f%% over %d years is %.2f.", in.Amount, in.Rate, in.Years, total), nil
		})
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterUser(interest); err != nil {
		return nil, err
	}

	switchAgent := &tools.RouteTool{
		Name: "switch_agent",
		Handler: func(ctx context.Context, call tools.RouteCall) (string, error) {
			// The model never sees this output; it only exists for the logs.
			logger.Info("handoff requested", "from", call.CurrentAgent, "to", call.TargetAgent, "reason", call.Reason)
			return fmt.Sprintf("Switched from %s to %s.", call.CurrentAgent, call.TargetAgent), nil
		},
		Params: tools.RouteSchemaParams{
			Description: "Tool to switch the current agent to another agent.",
			Fields: []tools.Field{
				{Name: "current_agent", Description: "Name of the current agent."},
				{Name: "target_agent", Description: "Name of the agent to switch to."},
				{Name: "summary", Description: "Summary of the conversation so far."},
				{Name: "reason", Description: "Reason for switching agents."},
			},
			CurrentAgentField: "current_agent",
			TargetAgentField:  "target_agent",
			Required:          []string{"current_agent", "target_agent", "summary"},
		},
	}
	if err := reg.RegisterRoute(switchAgent); err != nil {
		return nil, err
	}

	return reg, nil
}

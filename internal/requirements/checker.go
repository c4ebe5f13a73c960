// Package requirements verifies a fully-described load against the truck's
// physical limits and capabilities before any rate is offered. Failures are
// warnings, not errors: a warned load is parked for a human, not discarded.
package requirements

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadpilot/internal/llm"
	"loadpilot/internal/types"
)

const commoditySystemPrompt = `You decide whether a trucking commodity falls within a carrier's permitted commodity categories. Match semantically: "auto parts" falls under "automotive", "frozen chicken" does not fall under "dry goods". When the permitted list is empty, everything is permitted.`

const notesSystemPrompt = `You decide whether a load's special handling requirements can be met by a truck with the given equipment and security features. A requirement like "tarps required" fails without tarps; "No special handling" always passes.`

var checkSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"ok":     map[string]any{"type": "boolean"},
		"reason": map[string]any{"type": "string"},
	},
	"required": []string{"ok"},
}

type checkResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// Checker runs every feasibility check for a load/truck pairing.
type Checker struct {
	client llm.Client
	logger *zap.Logger
}

func NewChecker(client llm.Client, logger *zap.Logger) *Checker {
	return &Checker{client: client, logger: logger}
}

// Check returns one warning per failed requirement, empty when the truck
// can take the load. Deterministic limit checks and the two semantic checks
// run concurrently; the first transport error aborts the rest.
func (c *Checker) Check(ctx context.Context, load *types.LoadRecord, truck types.TruckProfile) ([]string, error) {
	var (
		mu       sync.Mutex
		warnings []string
	)
	warn := func(w string) {
		mu.Lock()
		warnings = append(warnings, w)
		mu.Unlock()
	}

	if truck.MaxWeightPounds > 0 && load.Details.WeightPounds > truck.MaxWeightPounds {
		warn(fmt.Sprintf("load weight %d lbs exceeds truck capacity %d lbs",
			load.Details.WeightPounds, truck.MaxWeightPounds))
	}
	if truck.MaxLengthFeet > 0 && load.Details.LengthFeet > truck.MaxLengthFeet {
		warn(fmt.Sprintf("load length %d ft exceeds truck deck %d ft",
			load.Details.LengthFeet, truck.MaxLengthFeet))
	}

	g, gctx := errgroup.WithContext(ctx)

	if load.Details.Commodity != "" && len(truck.PermittedCommodities) > 0 {
		g.Go(func() error {
			res, err := c.semanticCheck(gctx, commoditySystemPrompt, fmt.Sprintf(
				"COMMODITY: %s\nPERMITTED CATEGORIES: %s",
				load.Details.Commodity, strings.Join(truck.PermittedCommodities, ", ")))
			if err != nil {
				return err
			}
			if !res.OK {
				warn("commodity not permitted: " + nonEmpty(res.Reason, load.Details.Commodity))
			}
			return nil
		})
	}

	if notes := load.Details.SpecialNotes; notes != "" && !strings.EqualFold(notes, "No special handling") {
		g.Go(func() error {
			res, err := c.semanticCheck(gctx, notesSystemPrompt, fmt.Sprintf(
				"SPECIAL REQUIREMENTS: %s\nTRUCK EQUIPMENT AND SECURITY FEATURES: %s",
				notes, strings.Join(truck.SecurityFeatures, ", ")))
			if err != nil {
				return err
			}
			if !res.OK {
				warn("special requirements unmet: " + nonEmpty(res.Reason, notes))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		c.logger.Info("load failed requirement checks", zap.Strings("warnings", warnings))
	}
	return warnings, nil
}

func (c *Checker) semanticCheck(ctx context.Context, system, prompt string) (checkResult, error) {
	raw, err := c.client.Complete(ctx, llm.Request{
		System:      system,
		Prompt:      prompt,
		Schema:      checkSchema,
		Temperature: 0,
	})
	if err != nil {
		return checkResult{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}
	var res checkResult
	if err := llm.Decode(raw, &res); err != nil {
		return checkResult{}, &types.ExternalServiceError{Service: "completion", Err: err}
	}
	return res, nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

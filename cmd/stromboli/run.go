package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/inference/engine"
	"github.com/go-go-golems/stromboli/pkg/inference/runloop"
	"github.com/go-go-golems/stromboli/pkg/inference/structured"
	openai_provider "github.com/go-go-golems/stromboli/pkg/providers/openai"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

func newRunCommand() *cobra.Command {
	var (
		system     string
		schemaFile string
		arrayMode  bool
		enumValues []string
		stateFile  string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run the loop over a prompt and stream the output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loopConfig()
			if err != nil {
				return err
			}
			if cfg.Structured, err = structuredConfig(schemaFile, arrayMode, enumValues); err != nil {
				return err
			}

			sink := events.NewChannelSink(256)
			cfg.Sinks = append(cfg.Sinks, sink)

			loop, err := runloop.New(*cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			var prompt []turns.Block
			if system != "" {
				prompt = append(prompt, turns.NewSystemTextBlock(system))
			}
			prompt = append(prompt, turns.NewUserTextBlock(strings.Join(args, " ")))

			h := loop.Start(ctx, prompt...)
			go func() {
				_, _ = h.Wait()
				sink.Close()
			}()

			printEvents(sink)

			res, err := h.Wait()
			if err != nil {
				return err
			}
			return report(res, stateFile)
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON schema file enabling structured output")
	cmd.Flags().BoolVar(&arrayMode, "array", false, "stream an array of schema elements")
	cmd.Flags().StringSliceVar(&enumValues, "enum", nil, "restrict output to one of these values")
	cmd.Flags().StringVar(&stateFile, "state", "stromboli-state.yaml", "where to write the resumption record on suspension")
	return cmd
}

func newResumeCommand() *cobra.Command {
	var (
		stateFile   string
		resolutions []string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a suspended run from its state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(stateFile)
			if err != nil {
				return errors.Wrap(err, "read state file")
			}
			rec, err := runloop.DecodeResumption(data)
			if err != nil {
				return err
			}

			resolved := map[string]json.RawMessage{}
			for _, r := range resolutions {
				id, value, ok := strings.Cut(r, "=")
				if !ok {
					return errors.Errorf("--resolve wants id=json, got %q", r)
				}
				if !gjson.Valid(value) {
					return errors.Errorf("--resolve %s: value is not valid JSON", id)
				}
				resolved[id] = json.RawMessage(value)
			}

			cfg, err := loopConfig()
			if err != nil {
				return err
			}
			sink := events.NewChannelSink(256)
			cfg.Sinks = append(cfg.Sinks, sink)

			loop, err := runloop.New(*cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			h, err := loop.Resume(ctx, rec, resolved)
			if err != nil {
				return err
			}
			go func() {
				_, _ = h.Wait()
				sink.Close()
			}()

			printEvents(sink)

			res, err := h.Wait()
			if err != nil {
				return err
			}
			return report(res, stateFile)
		},
	}

	cmd.Flags().StringVar(&stateFile, "state", "stromboli-state.yaml", "state file written by a suspended run")
	cmd.Flags().StringArrayVar(&resolutions, "resolve", nil, "resolution for a pending call as id=json")
	return cmd
}

func loopConfig() (*runloop.Config, error) {
	apiKey := viper.GetString("api-key")
	if apiKey == "" {
		return nil, errors.New("no API key; set --api-key or STROMBOLI_API_KEY")
	}

	opts, err := parseOptions(viper.GetStringSlice("option"))
	if err != nil {
		return nil, err
	}
	headers, err := parsePairs(viper.GetStringSlice("header"))
	if err != nil {
		return nil, err
	}

	var engineOpts []openai_provider.Option
	if baseURL := viper.GetString("base-url"); baseURL != "" {
		engineOpts = append(engineOpts, openai_provider.WithBaseURL(baseURL))
	}

	modelIDs := append([]string{viper.GetString("model")}, viper.GetStringSlice("fallback-model")...)
	models := make([]engine.Model, 0, len(modelIDs))
	for _, id := range modelIDs {
		models = append(models, engine.Model{
			Spec:   engine.ModelSpec{ModelID: id},
			Engine: openai_provider.NewEngine(apiKey, id, engineOpts...),
		})
	}

	temperature := viper.GetFloat64("temperature")
	return &runloop.Config{
		Models:          models,
		MaxSteps:        viper.GetInt("max-steps"),
		Temperature:     &temperature,
		Headers:         headers,
		ProviderOptions: opts,
		OnError: func(err error) {
			log.Error().Err(err).Msg("loop error")
		},
	}, nil
}

func structuredConfig(schemaFile string, arrayMode bool, enumValues []string) (*structured.Config, error) {
	if len(enumValues) > 0 {
		return &structured.Config{Mode: structured.ModeEnum, Name: "output", Enum: enumValues}, nil
	}
	if schemaFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(schemaFile)
	if err != nil {
		return nil, errors.Wrap(err, "read schema file")
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, errors.Wrap(err, "parse schema file")
	}
	mode := structured.ModeObject
	if arrayMode {
		mode = structured.ModeArray
	}
	return &structured.Config{Mode: mode, Name: "output", Schema: schema}, nil
}

// parseOptions assembles key=value pairs into a nested option map; dotted
// keys become nested objects, values that parse as JSON keep their type.
func parseOptions(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	doc := "{}"
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, errors.Errorf("--option wants key=value, got %q", p)
		}
		var err error
		if gjson.Valid(value) {
			doc, err = sjson.SetRaw(doc, key, value)
		} else {
			doc, err = sjson.Set(doc, key, value)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "--option %s", key)
		}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return nil, errors.Wrap(err, "assemble options")
	}
	return out, nil
}

func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := map[string]string{}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, errors.Errorf("--header wants key=value, got %q", p)
		}
		out[key] = value
	}
	return out, nil
}

func printEvents(sink *events.ChannelSink) {
	for ev := range sink.Events() {
		switch e := ev.(type) {
		case *events.EventBlockDelta:
			if e.Kind == string(turns.BlockKindText) {
				fmt.Print(e.Delta)
			}
		case *events.EventToolCall:
			fmt.Printf("\n[tool call] %s(%s)\n", e.ToolCall.Name, e.ToolCall.Input)
		case *events.EventToolResult:
			fmt.Printf("[tool result] %s\n", e.ToolResult.Result)
		case *events.EventToolError:
			fmt.Printf("[tool error] %s: %s\n", e.ToolName, e.ErrorString)
		case *events.EventObjectSnapshot:
			if e.Final {
				fmt.Printf("\n%s\n", e.Snapshot)
			}
		case *events.EventRunSuspend:
			fmt.Printf("\n[suspended] pending approval: %s\n", strings.Join(e.PendingToolCallIDs, ", "))
		case *events.EventStepFinish:
			if e.IsContinued {
				fmt.Println()
			}
		}
	}
	fmt.Println()
}

func report(res *runloop.Result, stateFile string) error {
	if res.Suspended {
		data, err := res.Resumption.Encode()
		if err != nil {
			return err
		}
		if err := os.WriteFile(stateFile, data, 0o644); err != nil {
			return errors.Wrap(err, "write state file")
		}
		log.Info().Str("state", stateFile).Strs("pending", res.Pending).Msg("run suspended; resume with stromboli resume")
		return nil
	}
	if res.ObjectErr != nil {
		return res.ObjectErr
	}
	log.Info().
		Str("stop_reason", string(res.StopReason)).
		Int("input_tokens", res.Usage.InputTokens).
		Int("output_tokens", res.Usage.OutputTokens).
		Msg("run finished")
	return nil
}

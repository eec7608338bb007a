package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"deckwork/internal/client"
	"deckwork/internal/client/state"
	"deckwork/internal/event"
	"deckwork/internal/logging"
	"deckwork/internal/orchestrator"
)

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Color definitions for terminal output
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type watchOptions struct {
	server         string
	user           string
	prompt         string
	taskType       string
	presentationID string
	replay         bool
}

// newWatchCommand creates the watch subcommand.
func newWatchCommand() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a user's generation events in the terminal",
		Long: `Watch connects to a running deckwork server and renders one user's event
stream: thinking steps, tool activity, slide previews and the final result.
With --prompt it starts a generation first and follows it to the end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "Base URL of the deckwork server")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "User whose event stream to follow")
	cmd.Flags().StringVarP(&opts.prompt, "prompt", "p", "", "Start a generation with this prompt before watching")
	cmd.Flags().StringVarP(&opts.taskType, "type", "t", string(event.TaskTypeTopics), "Generation type: topics or slides")
	cmd.Flags().StringVar(&opts.presentationID, "presentation", "", "Presentation to extend (slides runs)")
	cmd.Flags().BoolVar(&opts.replay, "replay", true, "Replay buffered events on connect")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runWatch(opts watchOptions) error {
	taskType, err := parseTaskType(opts.taskType)
	if err != nil {
		return err
	}

	logger := logging.NewComponentLogger("Watch")
	api := client.New(opts.server, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := api.Health(ctx); err != nil {
		return fmt.Errorf("server %s unreachable: %w", opts.server, err)
	}

	store := state.NewStore()
	consumer := client.NewConsumer(client.ConsumerConfig{
		ServerURL: opts.server,
		UserID:    opts.user,
		Replay:    opts.replay,
	}, store, api, logger)

	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(ctx) }()

	var gen *orchestrator.Generation
	started := time.Now()
	if opts.prompt != "" {
		gen, err = api.StartGeneration(ctx, orchestrator.StartRequest{
			UserID:         opts.user,
			Prompt:         opts.prompt,
			TaskType:       taskType,
			PresentationID: opts.presentationID,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Generation %s started (%s)\n", blue("⚡"), bold(gen.ID), taskType)
	} else {
		fmt.Printf("%s Watching events for %s, press Ctrl-C to stop\n", blue("⚡"), bold(opts.user))
	}

	printer := newProgressPrinter()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	shutdown := func() error {
		printer.render(store.Snapshot())
		if gen != nil && !event.IsTerminalGenerationStatus(store.Status()) {
			cancelGeneration(api, gen.ID)
		}
		fmt.Printf("\n%s Stopped\n", gray("•"))
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown()

		case err := <-consumerDone:
			// The consumer only returns before cancellation on a config error.
			if ctx.Err() != nil {
				return shutdown()
			}
			return err

		case <-ticker.C:
			snap := store.Snapshot()
			printer.render(snap)
			if gen == nil {
				continue
			}

			if event.IsTerminalGenerationStatus(snap.Status) {
				printSummary(snap, time.Since(started))
				if snap.Status == event.GenerationStatusError {
					return fmt.Errorf("generation failed: %s", snap.ErrorReason)
				}
				return nil
			}

			// A topics run rests at idle with the topic list loaded, waiting
			// for approval before the slides run.
			if taskType == event.TaskTypeTopics &&
				snap.Status == event.GenerationStatusIdle && len(snap.Topics) > 0 {
				next, err := continueWithSlides(ctx, api, opts, gen)
				if err != nil {
					return err
				}
				if next == nil {
					return nil
				}
				gen = next
				taskType = event.TaskTypeSlides
				started = time.Now()
				store.Apply(state.Reset{})
				printer = newProgressPrinter()
				fmt.Printf("\n%s Generation %s started (%s)\n", blue("⚡"), bold(gen.ID), taskType)
			}
		}
	}
}

// continueWithSlides offers to turn an approved topic list into a slides run.
// It returns the new generation, or nil when the user declines or no terminal
// is attached.
func continueWithSlides(ctx context.Context, api *client.Client, opts watchOptions, topicsRun *orchestrator.Generation) (*orchestrator.Generation, error) {
	if !isTTY() {
		fmt.Printf("\n%s Topics ready. Generate the deck with:\n", blue("💡"))
		fmt.Printf("  %s\n", gray(fmt.Sprintf("deckwork watch -u %s -p %q -t slides", opts.user, opts.prompt)))
		return nil, nil
	}

	fmt.Printf("\n%s Approve topics and generate slides? [y/N] ", bold("?"))
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return nil, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer != "y" && answer != "yes" {
		fmt.Printf("%s Topics kept, no slides generated\n", gray("•"))
		return nil, nil
	}

	return api.StartGeneration(ctx, orchestrator.StartRequest{
		UserID:         opts.user,
		Prompt:         opts.prompt,
		TaskType:       event.TaskTypeSlides,
		PresentationID: topicsRun.PresentationID,
	})
}

// cancelGeneration asks the server to stop a run after the watcher itself was
// interrupted. The signal context is already dead, so it uses a fresh one.
func cancelGeneration(api *client.Client, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := api.CancelGeneration(ctx, id); err != nil {
		fmt.Printf("\n%s Cancel request failed: %v\n", yellow("⚠️"), err)
		return
	}
	fmt.Printf("\n%s Generation %s cancelled\n", yellow("⚠️"), bold(id))
}

func parseTaskType(raw string) (event.TaskType, error) {
	switch event.TaskType(strings.ToLower(strings.TrimSpace(raw))) {
	case event.TaskTypeTopics:
		return event.TaskTypeTopics, nil
	case event.TaskTypeSlides:
		return event.TaskTypeSlides, nil
	}
	return "", fmt.Errorf("unknown generation type %q (want topics or slides)", raw)
}

// progressPrinter turns the stream of store snapshots into an append-only
// terminal log, printing each record transition exactly once.
type progressPrinter struct {
	steps       map[string]event.StepStatus
	tools       map[string]event.ToolStatus
	slides      map[string]time.Time
	topicsShown bool
	progress    int
	stage       string
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{
		steps:  make(map[string]event.StepStatus),
		tools:  make(map[string]event.ToolStatus),
		slides: make(map[string]time.Time),
	}
}

func (p *progressPrinter) render(snap state.Snapshot) {
	for _, step := range snap.Steps {
		if seen, ok := p.steps[step.ID]; ok && seen == step.Status {
			continue
		}
		p.steps[step.ID] = step.Status
		p.printStep(step)
	}

	for _, tool := range snap.Tools {
		if seen, ok := p.tools[tool.ID]; ok && seen == tool.Status {
			continue
		}
		p.tools[tool.ID] = tool.Status
		p.printTool(tool)
	}

	for _, slide := range snap.Slides {
		if seen, ok := p.slides[slide.ID]; ok && seen.Equal(slide.UpdatedAt) {
			continue
		}
		p.slides[slide.ID] = slide.UpdatedAt
		fmt.Printf("%s Slide %d: %s %s\n",
			green("▸"), slide.OrderIndex+1, bold(slide.Title), gray(string(slide.Layout)))
	}

	if len(snap.Topics) > 0 && !p.topicsShown {
		p.topicsShown = true
		fmt.Printf("\n%s %s\n", green("✅"), bold("Topics ready:"))
		for i, topic := range snap.Topics {
			fmt.Printf("  %2d. %s\n", i+1, topic)
		}
	}

	if snap.Progress > p.progress || (snap.Stage != "" && snap.Stage != p.stage) {
		p.progress = snap.Progress
		p.stage = snap.Stage
		stage := snap.Stage
		if stage == "" {
			stage = "working"
		}
		fmt.Printf("%s %3d%% %s\n", cyan("⏳"), snap.Progress, gray(stage))
	}
}

func (p *progressPrinter) printStep(step *state.StepRecord) {
	switch step.Status {
	case event.StepStatusCompleted:
		fmt.Printf("%s %s\n", green("✅"), step.Title)
	case event.StepStatusRunning:
		fmt.Printf("%s %s\n", yellow("🤔"), bold(step.Title))
		if step.Description != "" {
			fmt.Printf("   %s\n", gray(step.Description))
		}
	default:
		fmt.Printf("%s %s\n", gray("•"), gray(step.Title))
	}
}

func (p *progressPrinter) printTool(tool *state.ToolRecord) {
	switch tool.Status {
	case event.ToolStatusCompleted:
		line := fmt.Sprintf("  %s %s", green("✓"), tool.Type)
		if tool.Duration > 0 {
			line += " " + gray(tool.Duration.Round(time.Millisecond).String())
		}
		fmt.Println(line)
	case event.ToolStatusFailed:
		fmt.Printf("  %s %s %s\n", red("✗"), tool.Type, red(tool.Error))
	default:
		fmt.Printf("  %s %s %s\n", cyan("⚙"), tool.Type, gray(truncate(tool.Input, 60)))
	}
}

func printSummary(snap state.Snapshot, elapsed time.Duration) {
	switch snap.Status {
	case event.GenerationStatusCompleted:
		fmt.Printf("\n%s Generation completed in %s\n", green("✅"), elapsed.Round(time.Second))
		if snap.Presentation != nil {
			fmt.Printf("   %s · %d slides %s\n",
				bold(snap.Presentation.Title), len(snap.Presentation.Slides), gray(snap.PresentationID))
		} else if snap.PresentationID != "" {
			fmt.Printf("   presentation %s\n", bold(snap.PresentationID))
		}
		if snap.Warning != "" {
			fmt.Printf("   %s %s\n", yellow("⚠️"), snap.Warning)
		}
	case event.GenerationStatusCancelled:
		fmt.Printf("\n%s Generation cancelled after %s\n", yellow("⚠️"), elapsed.Round(time.Second))
	case event.GenerationStatusError:
		fmt.Printf("\n%s Generation failed: %s\n", red("❌"), red(snap.ErrorReason))
		if snap.ErrorMessage != "" {
			fmt.Printf("   %s\n", gray(snap.ErrorMessage))
		}
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

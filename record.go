package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fluent.town/audio"
	"fluent.town/evaluation"
	"fluent.town/session"
	"fluent.town/tui"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one answer and print its transcript",
	Long: `Record until Ctrl-C (or until a file input ends), printing chunks as
they are finalized, then print the chunk table. With --submit the answer is
sent for evaluation.`,
	Run: runRecord,
}

func init() {
	recordCmd.Flags().String("submit", "", "Submit the answer as speaking or reading")
	recordCmd.Flags().String("item", "", "Topic id for speaking, passage id for reading")
	recordCmd.Flags().Duration("max-duration", 0, "Stop after this long (0 for no limit)")
	recordCmd.Flags().String("save", "", "Also save the recorded audio to this .ogg file")
}

// chunkPrinter prints each chunk once as the session reports it.
type chunkPrinter struct {
	w       io.Writer
	printed int
}

func (p *chunkPrinter) OnChunks(chunks []session.Chunk) {
	if len(chunks) < p.printed {
		p.printed = 0
	}
	for _, chunk := range chunks[p.printed:] {
		fmt.Fprintf(p.w, "[%s-%s] %s\n", tui.FormatTime(chunk.StartTime), tui.FormatTime(chunk.EndTime), chunk.Text)
	}
	p.printed = len(chunks)
}

func runRecord(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Configuration incomplete", "error", err)
	}

	submitKind, _ := cmd.Flags().GetString("submit")
	item, _ := cmd.Flags().GetString("item")
	maxDuration, _ := cmd.Flags().GetDuration("max-duration")
	savePath, _ := cmd.Flags().GetString("save")

	var submit func(context.Context, []session.Chunk) (*evaluation.Evaluation, error)
	if submitKind != "" {
		submit, err = submitter(newEvaluator(cfg, logger), submitKind, item)
		if err != nil {
			log.Fatal("Invalid evaluation kind", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	mic := newMicrophone(cfg, viper.GetString("input"), logger)
	if savePath != "" {
		mic = audio.RecordingMicrophone{Microphone: mic, Path: savePath}
	}

	ended := make(chan struct{})
	printer := &chunkPrinter{w: os.Stdout}
	sawListening := false
	sess := newSession(cfg, mic, logger, session.Callbacks{
		OnChunks: printer.OnChunks,
		OnListening: func(listening bool) {
			if listening {
				sawListening = true
			} else if sawListening {
				close(ended)
			}
		},
		OnError: func(err error) {
			logger.Error("Recording error", "error", err)
		},
	})

	if err := sess.StartListening(ctx); err != nil {
		log.Fatal("Failed to start listening", "error", err)
	}
	logger.Info("Recording, press Ctrl-C to stop")

	select {
	case <-ctx.Done():
		sess.StopListening()
	case <-ended:
	}

	state := sess.State()
	if savePath != "" {
		logger.Info("Recording saved", "path", savePath)
	}
	fmt.Println()
	printChunkTable(os.Stdout, state.Chunks)
	fmt.Printf("\nTranscript: %s\n", state.Transcript)

	if submit == nil {
		return
	}

	submitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ev, err := submit(submitCtx, state.Chunks)
	if err != nil {
		log.Fatal("Submission failed", "error", err)
	}
	printEvaluation(os.Stdout, *ev)
}

func printChunkTable(w io.Writer, chunks []session.Chunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(w, "No speech recognized.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Start", "End", "Text"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for i, chunk := range chunks {
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			tui.FormatTime(chunk.StartTime),
			tui.FormatTime(chunk.EndTime),
			chunk.Text,
		})
	}
	table.Render()
}

func printEvaluation(w io.Writer, ev evaluation.Evaluation) {
	markdown := evaluation.Markdown(ev)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		fmt.Fprint(w, markdown)
		return
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		fmt.Fprint(w, markdown)
		return
	}
	fmt.Fprint(w, out)
}

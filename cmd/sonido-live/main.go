package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RyanBlaney/sonido-live/algorithms/temporal"
	"github.com/RyanBlaney/sonido-live/algorithms/tonal"
	"github.com/RyanBlaney/sonido-live/config"
	"github.com/RyanBlaney/sonido-live/live"
	"github.com/RyanBlaney/sonido-live/logging"
	"github.com/alecthomas/kong"
)

var version = "0.1.0"

// CLI defines the command-line interface
type CLI struct {
	Config     string           `short:"c" type:"path" help:"Path to a YAML or JSON config file"`
	SampleRate float64          `short:"r" default:"44100" help:"Input sample rate in Hz"`
	Channels   int              `short:"n" default:"2" help:"Interleaved channels in the input"`
	Gain       float64          `short:"g" default:"1.0" help:"Input gain"`
	Realtime   bool             `help:"Stream the input at real time through the live analyzer"`
	Verbose    bool             `short:"v" help:"Enable debug logging"`
	Version    kong.VersionFlag `help:"Show version information"`
	Input      string           `arg:"" optional:"" type:"existingfile" help:"Raw float32 little-endian PCM (stdin when omitted)"`
}

func main() {
	cli := &CLI{}
	kong.Parse(cli,
		kong.Name("sonido-live"),
		kong.Description("Real-time tempo and key estimation"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if err := run(cli); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func run(cli *CLI) error {
	cfg := config.Default()
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Analyzer.InputGain = cli.Gain

	level := logging.ParseLevel(cfg.Analyzer.LogLevel)
	if cli.Verbose {
		level = logging.DebugLevel
	}
	// Results go to stdout, so keep log lines on stderr
	logging.SetGlobalLogger(logging.NewWriterLogger(os.Stderr, level))

	in := io.Reader(os.Stdin)
	if cli.Input != "" {
		f, err := os.Open(cli.Input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	printTitle(os.Stdout)
	if cli.Realtime {
		return runRealtime(cli, cfg, in)
	}
	return runBatch(cli, cfg, in)
}

func runBatch(cli *CLI, cfg *config.Config, in io.Reader) error {
	mono, err := readMono(in, cli.Channels, float32(cli.Gain))
	if err != nil {
		return err
	}

	res := live.Analyze(mono, cli.SampleRate, cfg)
	printField(os.Stdout, "Duration", fmt.Sprintf("%.2f s", res.DurationSeconds))
	printField(os.Stdout, "Tempo", formatTempo(res.Tempo))
	printField(os.Stdout, "Key", formatKey(res.Key))
	return nil
}

func runRealtime(cli *CLI, cfg *config.Config, in io.Reader) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	analyzer, err := live.New(cfg,
		live.WithTempoCallback(func(bpm, confidence float64) {
			printField(os.Stdout, "Tempo", formatTempo(temporal.TempoEstimate{BPM: bpm, Confidence: confidence}))
		}),
		live.WithKeyCallback(func(key int, minor bool, confidence float64) {
			printField(os.Stdout, "Key", formatKey(tonal.KeyResult{Key: key, Minor: minor, Confidence: confidence}))
		}),
	)
	if err != nil {
		return err
	}
	if err := analyzer.Start(); err != nil {
		return err
	}
	defer analyzer.Stop()

	pr, err := newPCMReader(in, cli.Channels)
	if err != nil {
		return err
	}

	const block = 1024
	planar := make([][]float32, cli.Channels)
	for c := range planar {
		planar[c] = make([]float32, block)
	}
	blockDuration := time.Duration(float64(block) / cli.SampleRate * float64(time.Second))
	ticker := time.NewTicker(blockDuration)
	defer ticker.Stop()

	for {
		n, err := pr.ReadFrames(planar)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		analyzer.Write(planar, n, cli.SampleRate)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	// Let the worker finish what is queued before the summary
	for analyzer.Ring().Size() > 0 && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}
	analyzer.Stop()

	fmt.Fprintln(os.Stdout)
	printField(os.Stdout, "Final tempo", formatTempo(analyzer.LastTempo()))
	printField(os.Stdout, "Final key", formatKey(analyzer.LastKey()))
	if dropped := analyzer.DroppedSamples(); dropped > 0 {
		printField(os.Stdout, "Dropped", fmt.Sprintf("%d samples", dropped))
	}
	return nil
}

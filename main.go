package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"

	"github.com/user-none/psgmidi/bridge"
	"github.com/user-none/psgmidi/bridge/midiport"
	"github.com/user-none/psgmidi/bridge/serialmidi"
	"github.com/user-none/psgmidi/bridge/smfplay"
	"github.com/user-none/psgmidi/cli"
	"github.com/user-none/psgmidi/config"
	"github.com/user-none/psgmidi/firmware"
)

// logger is replaced by initLogger once flags are parsed.
var logger = slog.Default()

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

var (
	configPath string
	debug      bool
	cfg        config.Config

	midiIn     string
	midiOut    string
	virtual    bool
	serialDev  string
	serialBaud int
	statusAddr string
	noAudio    bool
	tail       time.Duration
	hexPath    string
	waitReply  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "psgmidi",
	Short: "MIDI synthesizer firmware for a board of programmable sound chips",
	Long: `psgmidi runs the sound board controller firmware against a simulated
board of sound chips, with host audio output, and talks to real boards
through their MIDI port.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg = config.Default()
			err = cfg.Validate()
		}
		if err != nil {
			return err
		}
		initLogger(debug || cfg.Debug)
		applyFlags(cmd)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play live MIDI input through the simulated board",
	Long: `Run the firmware and feed it from a host MIDI input and, optionally, a
DIN MIDI serial adapter.

Examples:
  psgmidi run --in keystation
  psgmidi run --virtual --in psgmidi --status :7474
  psgmidi run --serial /dev/ttyUSB0 --no-audio`,
	RunE: runRun,
}

var playCmd = &cobra.Command{
	Use:   "play <file.mid>",
	Short: "Play a Standard MIDI File through the simulated board",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List host MIDI ports and serial devices",
	RunE:  runPorts,
}

var revisionsCmd = &cobra.Command{
	Use:   "revisions",
	Short: "List the built-in board revision profiles",
	RunE:  runRevisions,
}

var hexCmd = &cobra.Command{
	Use:   "hex <file.hex>",
	Short: "Dry-run a chip firmware upload against the simulated board",
	Args:  cobra.ExactArgs(1),
	RunE:  runHex,
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Send configured patches or a chip firmware image to a board",
	Long: `Send SysEx uploads to a real board through a host MIDI output.

Every patch in the configuration file is sent as an instrument upload.
With --hex the chip firmware image is sent as well; the board answers
with one message once every chip has been reprogrammed.

Examples:
  psgmidi upload --config bank.yaml --out psgmidi
  psgmidi upload --out psgmidi --hex chip.hex --in psgmidi`,
	RunE: runUpload,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug logging")

	runCmd.Flags().StringVar(&midiIn, "in", "", "MIDI input name fragment")
	runCmd.Flags().StringVar(&midiOut, "out", "", "MIDI output for packets sent by the firmware")
	runCmd.Flags().BoolVar(&virtual, "virtual", false, "Create virtual ports when no match is found")
	runCmd.Flags().StringVar(&serialDev, "serial", "", "DIN MIDI serial device")
	runCmd.Flags().IntVar(&serialBaud, "baud", serialmidi.DefaultBaudRate, "Serial baud rate")
	runCmd.Flags().StringVar(&statusAddr, "status", "", "Status endpoint address (empty disables)")
	runCmd.Flags().BoolVar(&noAudio, "no-audio", false, "Disable host audio")

	playCmd.Flags().BoolVar(&noAudio, "no-audio", false, "Disable host audio")
	playCmd.Flags().StringVar(&statusAddr, "status", "", "Status endpoint address (empty disables)")
	playCmd.Flags().DurationVar(&tail, "tail", 2*time.Second, "Time to keep running after the last event")

	uploadCmd.Flags().StringVar(&midiOut, "out", "", "MIDI output of the board (required)")
	uploadCmd.Flags().StringVar(&midiIn, "in", "", "MIDI input of the board, to wait for the reprogram reply")
	uploadCmd.Flags().StringVar(&hexPath, "hex", "", "Intel HEX chip firmware to send")
	uploadCmd.Flags().DurationVar(&waitReply, "wait", 30*time.Second, "How long to wait for the reprogram reply")
	uploadCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(runCmd, playCmd, portsCmd, revisionsCmd, hexCmd, uploadCmd)
}

// applyFlags lets explicitly set flags override the configuration file.
func applyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("in") {
		cfg.MIDI.In = midiIn
	}
	if f.Changed("out") {
		cfg.MIDI.Out = midiOut
	}
	if f.Changed("virtual") {
		cfg.MIDI.Virtual = virtual
	}
	if f.Changed("serial") {
		cfg.Serial.Device = serialDev
	}
	if f.Changed("baud") {
		cfg.Serial.Baud = serialBaud
	}
	if f.Changed("status") {
		cfg.Status.Addr = statusAddr
	}
	if f.Changed("no-audio") {
		cfg.Audio.Enabled = !noAudio
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(_ *cobra.Command, _ []string) error {
	r, err := cli.NewRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close()
	defer midiport.Close()

	if cfg.MIDI.Out != "" {
		out, err := midiport.FindOut(cfg.MIDI.Out, cfg.MIDI.Virtual)
		if err != nil {
			return err
		}
		o, err := midiport.NewOutput(out)
		if err != nil {
			return err
		}
		r.OnPacket(o.WritePacket)
	}

	if cfg.MIDI.In != "" {
		in, err := midiport.FindIn(cfg.MIDI.In, cfg.MIDI.Virtual)
		if err != nil {
			return err
		}
		l := midiport.NewListener(r, logger)
		if err := l.Listen(in); err != nil {
			return err
		}
		defer l.Stop()
	}

	var sources []cli.Source
	if cfg.Serial.Device != "" {
		port, err := serialmidi.Open(cfg.Serial.Device, cfg.Serial.Baud)
		if err != nil {
			return err
		}
		defer port.Close()
		logger.Info("serial input open", "device", cfg.Serial.Device, "baud", cfg.Serial.Baud)
		sources = append(sources, func(ctx context.Context, sink bridge.Sink) error {
			return serialmidi.Pump(ctx, port, sink, logger)
		})
	}

	ctx, stop := signalContext()
	defer stop()
	logger.Info("running", "revision", r.Revision().Name)
	return r.Run(ctx, sources...)
}

func runPlay(_ *cobra.Command, args []string) error {
	events, err := smfplay.LoadFile(args[0])
	if err != nil {
		return err
	}
	r, err := cli.NewRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	player := smfplay.NewPlayer(r, logger)
	logger.Info("playing", "file", args[0], "events", len(events))
	return r.Run(ctx, func(ctx context.Context, _ bridge.Sink) error {
		defer cancel()
		if err := player.Play(ctx, events); err != nil {
			// Interrupted
			return nil
		}
		select {
		case <-ctx.Done():
		case <-time.After(tail):
		}
		return nil
	})
}

func runPorts(_ *cobra.Command, _ []string) error {
	defer midiport.Close()
	ins, outs := midiport.Ports()
	fmt.Println("MIDI inputs:")
	for _, n := range ins {
		fmt.Printf("  %s\n", n)
	}
	fmt.Println("MIDI outputs:")
	for _, n := range outs {
		fmt.Printf("  %s\n", n)
	}

	devs, err := serialmidi.Ports()
	if err != nil {
		return err
	}
	fmt.Println("Serial devices:")
	for _, n := range devs {
		fmt.Printf("  %s\n", n)
	}
	return nil
}

func runRevisions(_ *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tCHIPS\tCLOCK\tFILTER\tSTEREO\tFLASH\tPROTECTED\tROW DELAY")
	for _, r := range firmware.Revisions() {
		fmt.Fprintf(w, "%s\t%d\t%d\tx%g\t%v\t%v\t%#x\t%#x\t%v\n",
			r.Name, r.ID, r.Chips, r.ClockMultiplier, r.Filter, r.Stereo, r.FlashWords, r.ProtectedWords, r.RowDelay)
	}
	return w.Flush()
}

func runHex(_ *cobra.Command, args []string) error {
	text, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "read hex file")
	}
	rev, err := cfg.BoardRevision()
	if err != nil {
		return err
	}
	rep, err := cli.DryRunHex(rev, text, logger)
	if err != nil {
		return err
	}

	fmt.Printf("revision %s: %d extents, %d dropped, %d rows per chip, bus time %v\n",
		rev.Name, len(rep.Extents), rep.Dropped, rep.Rows(rev), rep.Elapsed)
	for _, e := range rep.Extents {
		fmt.Printf("  words %#06x-%#06x\n", e.Start, e.End)
	}
	for i, c := range rep.Chips {
		if c.Rejected > 0 || c.Reflashed != 1 {
			fmt.Printf("  chip %d: reflashed %d, rejected rows %d\n", i, c.Reflashed, c.Rejected)
		}
	}
	if !rep.Done {
		return errors.New("reprogram did not complete")
	}
	fmt.Println("ok")
	return nil
}

// replySink signals the first message the board sends back.
type replySink chan struct{}

func (s replySink) HandlePackets(...firmware.Packet) error {
	select {
	case s <- struct{}{}:
	default:
	}
	return nil
}

func runUpload(_ *cobra.Command, _ []string) error {
	defer midiport.Close()
	rev, err := cfg.BoardRevision()
	if err != nil {
		return err
	}
	out, err := midiport.FindOut(cfg.MIDI.Out, false)
	if err != nil {
		return err
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return errors.Wrapf(err, "open MIDI output %q", out.String())
	}

	for _, p := range cfg.Patches {
		patch, err := p.Patch()
		if err != nil {
			return err
		}
		msg, err := rev.InstrumentUploadMessage(p.Program, &patch)
		if err != nil {
			return err
		}
		if err := send(midi.Message(msg)); err != nil {
			return errors.Wrapf(err, "send program %d", p.Program)
		}
		logger.Info("instrument sent", "program", p.Program, "wave", patch.Wave)
	}

	if hexPath == "" {
		return nil
	}
	text, err := os.ReadFile(hexPath)
	if err != nil {
		return errors.Wrap(err, "read hex file")
	}
	if _, err := firmware.ParseHex(text, rev.FlashWords, rev.ErasedWord, rev.RowWords); err != nil {
		return errors.Wrap(err, "hex file rejected before sending")
	}

	reply := make(replySink, 1)
	if midiIn != "" {
		in, err := midiport.FindIn(midiIn, false)
		if err != nil {
			return err
		}
		l := midiport.NewListener(reply, logger)
		if err := l.Listen(in); err != nil {
			return err
		}
		defer l.Stop()
	}

	if err := send(midi.Message(rev.HexUploadMessage(text))); err != nil {
		return errors.Wrap(err, "send hex upload")
	}
	logger.Info("chip firmware sent", "bytes", len(text))
	if midiIn == "" {
		return nil
	}

	select {
	case <-reply:
		logger.Info("board reports reprogram complete")
		return nil
	case <-time.After(waitReply):
		return errors.Errorf("no reply from board within %v", waitReply)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

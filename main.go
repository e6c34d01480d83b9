package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"trance-studio/api"
	"trance-studio/config"
	"trance-studio/debug"
	"trance-studio/engine"
	"trance-studio/midi"
	"trance-studio/pattern"
	"trance-studio/studio"
	"trance-studio/theme"
	"trance-studio/tui"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	configPath  string
	portName    string
	tempo       int
	addr        string
	palettePath string
	debugOn     bool
	debugFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trance-studio",
	Short: "Four-track trance step sequencer for external MIDI synths",
	Long: `trance-studio plays a 16-step kick, bass, pad and lead pattern on an
external MIDI synth. Edit it from the terminal, a Launchpad X, or over HTTP.

Examples:
  trance-studio ports
  trance-studio --port "IAC Driver Bus 1"
  trance-studio serve --port "IAC Driver Bus 1" --addr 127.0.0.1:8138`,
	Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
	PersistentPreRunE: setupDebug,
	RunE:              runTUI,
	SilenceUsage:      true,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI ports and detect a Launchpad X",
	Args:  cobra.NoArgs,
	RunE:  runPorts,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run headless with the HTTP control surface",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Print the preset pattern",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), pattern.Preset().String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/trance-studio/config.json)")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "MIDI output port name or substring")
	rootCmd.PersistentFlags().IntVarP(&tempo, "tempo", "t", 0, "start tempo in BPM (120-150)")
	rootCmd.PersistentFlags().BoolVar(&debugOn, "debug", false, "write a debug log")
	rootCmd.PersistentFlags().StringVar(&debugFile, "debug-file", "", "debug log path (default ~/.config/trance-studio/debug.log)")

	rootCmd.Flags().StringVar(&palettePath, "palette", "", "GIMP .gpl palette for the UI")

	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")

	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(patternCmd)
}

func setupDebug(cmd *cobra.Command, args []string) error {
	if !debugOn && debugFile == "" {
		return nil
	}
	return debug.Enable(debugFile)
}

// loadConfig reads the config file and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		cfg.MIDI.Port = portName
	}
	if cmd.Flags().Changed("tempo") {
		cfg.UI.LastTempo = tempo
	}
	if cmd.Flags().Changed("addr") {
		cfg.HTTP.Addr = addr
	}
	return cfg, nil
}

func saveConfig(cfg *config.Config) error {
	if configPath != "" {
		return cfg.SaveTo(configPath)
	}
	return cfg.Save()
}

func newStudio(cfg *config.Config, th *theme.Theme) *studio.Studio {
	eng := engine.New(engine.Options{
		Port:      cfg.MIDI.Port,
		Channels:  cfg.Channels(),
		LookAhead: cfg.LookAhead(),
	})
	return studio.New(eng, studio.Options{
		Tempo: cfg.UI.LastTempo,
		Lead:  cfg.Lead(),
		Ramp:  cfg.Ramp(),
		Theme: th,
	})
}

// watchControllers hot-plugs grid controllers into s until ctx is done.
// The returned channel closes once the watcher has exited.
func watchControllers(ctx context.Context, cfg *config.Config, s *studio.Studio) <-chan struct{} {
	done := make(chan struct{})
	if len(cfg.AutoConnectControllers()) == 0 {
		close(done)
		return done
	}

	dm := midi.NewDeviceManager()
	go dm.Run(ctx)
	go func() {
		defer close(done)
		s.WatchDevices(dm.Events())
	}()
	return done
}

func runTUI(cmd *cobra.Command, args []string) error {
	defer midi.CloseDriver()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	th := theme.Default()
	if palettePath != "" {
		palette, err := theme.LoadGPL(palettePath)
		if err != nil {
			return err
		}
		th = theme.New(palette)
	}

	s := newStudio(cfg, th)

	ctx, cancel := context.WithCancel(cmd.Context())
	devicesDone := watchControllers(ctx, cfg, s)

	p := tea.NewProgram(tui.NewModel(s, th), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, runErr := p.Run()

	cfg.UI.LastTempo = s.Status().Tempo
	cancel()
	<-devicesDone
	if err := s.Close(); err != nil {
		debug.Log("main", "close: %v", err)
	}
	if err := saveConfig(cfg); err != nil {
		debug.Log("main", "save config: %v", err)
	}
	return runErr
}

func runServe(cmd *cobra.Command, args []string) error {
	defer midi.CloseDriver()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newStudio(cfg, nil)
	devicesDone := watchControllers(ctx, cfg, s)

	fmt.Fprintf(cmd.OutOrStdout(), "trance-studio listening on http://%s\n", cfg.HTTP.Addr)
	runErr := api.New(s).Run(ctx, cfg.HTTP.Addr)

	stop()
	<-devicesDone
	if err := s.Close(); err != nil {
		debug.Log("main", "close: %v", err)
	}
	return runErr
}

func runPorts(cmd *cobra.Command, args []string) error {
	defer midi.CloseDriver()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "(waiting up to %s...)\n", midi.DefaultScanTimeout)
	ports, err := midi.ScanPorts(midi.DefaultScanTimeout)
	if err != nil {
		return fmt.Errorf("%w (on macOS try: sudo killall coreaudiod midiserver)", err)
	}

	fmt.Fprintln(out, "=== MIDI Output Ports ===")
	for i, p := range ports.Outs {
		fmt.Fprintf(out, "  %d: %s\n", i, p.String())
	}
	fmt.Fprintln(out, "\n=== MIDI Input Ports ===")
	for i, p := range ports.Ins {
		fmt.Fprintf(out, "  %d: %s\n", i, p.String())
	}

	launchpad := false
	for _, p := range ports.Outs {
		if strings.Contains(strings.ToLower(p.String()), "launchpad") {
			launchpad = true
		}
	}
	if launchpad {
		fmt.Fprintln(out, "\nLaunchpad X detected")
	}
	return nil
}

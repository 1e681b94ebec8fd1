package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Bushingz/Kawasaki-Backup-Client/kawasaki"
)

var cfgFile string

// rootCmd represents the kawabackup command
var rootCmd = &cobra.Command{
	Use:   "kawabackup",
	Short: "Back up a Kawasaki robot controller over its telnet service",
	Long: `kawabackup pulls a program or full backup from a Kawasaki robot
controller through the AS monitor on TCP port 23 and stores it as a .as
file, alongside a raw debug capture of the whole session.

The controller is addressed directly, or through an SSH jump host when the
robot cell network is only reachable from a gateway machine:

  kawabackup --host 10.0.0.1 --name cell7
  kawabackup --host 10.0.0.1 --name cell7 --full
  kawabackup --host 192.168.0.2 --name weld1 \
      --jump gateway:22 --jump-user tech --jump-key ~/.ssh/id_ed25519

Every flag can also be set via a KAWABACKUP_* environment variable or the
config file (default $HOME/.kawabackup.yaml).`,
	Version:      "0.1.0",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
	},
	RunE: runBackup,
}

func init() {
	flags := rootCmd.Flags()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kawabackup.yaml)")

	flags.StringP("host", "H", "", "controller address (required)")
	flags.StringP("name", "n", "", "backup base name (required)")
	flags.IntP("port", "p", 23, "controller telnet port")
	flags.StringP("user", "u", "as", "AS monitor login name")
	flags.BoolP("full", "f", false, "save the full controller image instead of program data")
	flags.StringP("output-dir", "o", ".", "directory for the backup and debug files")
	flags.Int64("interval", kawasaki.DefaultProgressInterval, "bytes between progress updates")
	flags.Duration("connect-timeout", 5*time.Second, "timeout for one connection attempt")
	flags.Duration("read-timeout", 10*time.Second, "timeout for handshake waits and stream reads")
	flags.Int("retries", 1, "connection attempts before giving up")
	flags.Duration("retry-delay", time.Second, "delay between connection attempts")
	flags.BoolP("quiet", "q", false, "suppress all output except errors")
	flags.BoolP("verbose", "v", false, "print per-status detail")
	flags.String("log", "", "append a session debug log to this file")
	flags.Bool("no-manifest", false, "skip writing the .manifest.json sidecar")

	flags.String("jump", "", "SSH jump host as host:port")
	flags.String("jump-user", "", "SSH jump host login name")
	flags.String("jump-password", "", "SSH jump host password")
	flags.String("jump-key", "", "SSH jump host private key file")
	flags.String("jump-known-hosts", "", "known_hosts file for jump host verification")

	rootCmd.MarkFlagRequired("host")
	rootCmd.MarkFlagRequired("name")

	viper.SetEnvPrefix("KAWABACKUP")
	viper.AutomaticEnv()
	viper.BindPFlags(flags)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".kawabackup")
	}

	if err := viper.ReadInConfig(); err == nil && viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg := kawasaki.DefaultConfig()
	cfg.Port = viper.GetInt("port")
	cfg.Username = viper.GetString("user")
	cfg.Full = viper.GetBool("full")
	cfg.OutputDir = viper.GetString("output-dir")
	cfg.ProgressInterval = viper.GetInt64("interval")
	cfg.ConnectTimeout = viper.GetDuration("connect-timeout")
	cfg.ReadTimeout = viper.GetDuration("read-timeout")
	cfg.ConnectRetries = viper.GetInt("retries")
	cfg.RetryDelay = viper.GetDuration("retry-delay")

	host := viper.GetString("host")
	name := viper.GetString("name")
	quiet := viper.GetBool("quiet")
	verbose := viper.GetBool("verbose")

	opts := []kawasaki.Option{kawasaki.WithConfig(cfg)}

	if logPath := viper.GetString("log"); logPath != "" {
		logger, err := kawasaki.NewFileLogger(logPath)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer logger.Close()
		opts = append(opts, kawasaki.WithLogger(logger))
	}

	if jump := viper.GetString("jump"); jump != "" {
		opts = append(opts, kawasaki.WithDialer(&kawasaki.SSHJumpDialer{
			Addr:           jump,
			User:           viper.GetString("jump-user"),
			Password:       viper.GetString("jump-password"),
			KeyFile:        viper.GetString("jump-key"),
			KnownHostsFile: viper.GetString("jump-known-hosts"),
			Timeout:        cfg.ConnectTimeout,
		}))
	}

	ui := newProgressUI(quiet, verbose, name)
	opts = append(opts, kawasaki.WithCallbacks(ui.callbacks()))

	client := kawasaki.New(host, name, opts...)
	ctx := watchSignals(client)

	started := time.Now()
	outPath, debugPath, err := client.Run(ctx)
	ui.finish()
	if err != nil {
		switch {
		case kawasaki.IsDeviceBusy(err):
			return fmt.Errorf("controller is busy with another save/load, try again later")
		case kawasaki.IsCancelled(err):
			return fmt.Errorf("backup cancelled")
		default:
			return err
		}
	}

	if !viper.GetBool("no-manifest") {
		mode := "program"
		if cfg.Full {
			mode = "full"
		}
		manifestPath, err := writeManifest(outPath, debugPath, host, mode, started)
		if err != nil {
			return fmt.Errorf("backup succeeded but manifest failed: %w", err)
		}
		if verbose && !quiet {
			fmt.Fprintf(os.Stderr, "Manifest written to %s\n", manifestPath)
		}
	}

	if !quiet {
		fmt.Printf("Backup written to %s (debug capture: %s)\n", outPath, debugPath)
	}
	return nil
}

// watchSignals cancels the backup cooperatively on the first interrupt and
// hard-cancels the context on the second.
func watchSignals(client *kawasaki.Client) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		client.Cancel()
		<-sigChan
		cancel()
	}()

	return ctx
}

// progressUI renders session callbacks on stderr: a live progress bar on a
// terminal, plain status lines otherwise.
type progressUI struct {
	quiet   bool
	verbose bool
	bar     *progressbar.ProgressBar
}

func newProgressUI(quiet, verbose bool, name string) *progressUI {
	ui := &progressUI{quiet: quiet, verbose: verbose}

	if !quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		// Total size is unknown until the transfer ends, so run in
		// spinner mode with a live byte count.
		ui.bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("Receiving "+name),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}
	return ui
}

func (ui *progressUI) callbacks() *kawasaki.Callbacks {
	return &kawasaki.Callbacks{
		OnStatus: func(msg string) {
			if ui.quiet {
				return
			}
			if ui.bar != nil {
				ui.bar.Describe(msg)
				return
			}
			fmt.Fprintln(os.Stderr, msg)
		},
		OnProgress: func(n int64) {
			if ui.quiet {
				return
			}
			if ui.bar != nil {
				_ = ui.bar.Set64(n)
				return
			}
			if ui.verbose {
				fmt.Fprintf(os.Stderr, "\r%d KB received", n/1024)
			}
		},
		OnError: func(err error) {
			if ui.verbose && !ui.quiet {
				fmt.Fprintf(os.Stderr, "\nSession error: %v\n", err)
			}
		},
	}
}

func (ui *progressUI) finish() {
	if ui.bar != nil {
		_ = ui.bar.Finish()
		fmt.Fprintln(os.Stderr)
	} else if ui.verbose && !ui.quiet {
		fmt.Fprintln(os.Stderr)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

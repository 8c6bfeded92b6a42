package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/straja-ai/piiguard/internal/config"
	"github.com/straja-ai/piiguard/internal/consent"
	"github.com/straja-ai/piiguard/internal/guardian"
	plog "github.com/straja-ai/piiguard/internal/log"
	"github.com/straja-ai/piiguard/internal/policy"
	"github.com/straja-ai/piiguard/internal/safety"
	"github.com/straja-ai/piiguard/internal/tokenize"
)

var version = "dev"

type rootOptions struct {
	configPath string
	debug      bool

	cfg *config.Config
	log *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "piiguard",
		Short: "Detect, tokenize and restore personal data in text",
		Long: `piiguard finds personal data (emails, phone numbers, card numbers, SSNs,
IP addresses, IBANs) in text, replaces it with reversible tokens and tracks
per-subject consent.

Examples:
  piiguard detect "mail me at jane@example.com"
  echo "call 555-123-4567" | piiguard protect --level strict
  piiguard restore --map tokens.json < sanitized.txt
  piiguard consent grant u1 analysis --duration 720h`,
		SilenceUsage: true,
		Version:      version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			opts.cfg = cfg
			opts.log = plog.New(opts.debug || cfg.Logging.Debug)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "piiguard.yaml", "path to config file (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "verbose debug logging")

	rootCmd.AddCommand(
		newDetectCmd(opts),
		newProtectCmd(opts),
		newRestoreCmd(opts),
		newConsentCmd(opts),
	)
	return rootCmd
}

// withApp builds the components for one command run and tears them down
// afterwards so queued audit events are flushed.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

// readInput joins args, or reads stdin when there are none or the only arg is "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newDetectCmd(opts *rootOptions) *cobra.Command {
	var (
		lang          string
		minConfidence float64
	)
	cmd := &cobra.Command{
		Use:   "detect [text|-]",
		Short: "Print detected PII entities as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				if lang == "" {
					lang = opts.cfg.Detection.Language
				}
				if !cmd.Flags().Changed("min-confidence") {
					minConfidence = opts.cfg.Detection.MinConfidence
				}
				entities, err := a.detector.Detect(text, lang, minConfidence)
				if err != nil {
					return err
				}
				if entities == nil {
					entities = []safety.PIIEntity{}
				}
				return writeJSON(cmd.OutOrStdout(), entities)
			})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "language tag (default from config)")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "drop entities below this confidence")
	return cmd
}

type protectOutput struct {
	Text     string             `json:"text"`
	Tokens   tokenize.Map       `json:"tokens"`
	Entities []safety.PIIEntity `json:"entities"`
	Level    policy.Level       `json:"level"`
}

type recordOutput struct {
	Record   guardian.Record   `json:"record"`
	Metadata guardian.Metadata `json:"metadata"`
}

func newProtectCmd(opts *rootOptions) *cobra.Command {
	var (
		levelName  string
		subject    string
		recordPath string
	)
	cmd := &cobra.Command{
		Use:   "protect [text|-]",
		Short: "Replace PII with tokens",
		Long: `Replace PII with tokens and print the sanitized text with its token map.

With --record, the input is a JSON record {"id", "subject_id", "data"}; the
configured guardian fields are protected only if the subject has consented to
the configured purpose.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := policy.ParseLevel(levelName)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if recordPath != "" {
					rec, err := loadRecord(cmd, recordPath)
					if err != nil {
						return err
					}
					out, md, err := a.guardian.ProtectRecord(ctx, rec, level)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), recordOutput{Record: out, Metadata: md})
				}

				text, err := readInput(cmd, args)
				if err != nil {
					return err
				}
				res, err := a.guardian.ProtectField(ctx, subject, text, level)
				if err != nil {
					return err
				}
				entities := res.Entities
				if entities == nil {
					entities = []safety.PIIEntity{}
				}
				return writeJSON(cmd.OutOrStdout(), protectOutput{
					Text:     res.Text,
					Tokens:   res.Tokens,
					Entities: entities,
					Level:    res.Level,
				})
			})
		},
	}
	cmd.Flags().StringVar(&levelName, "level", "", "none | basic | standard | strict (default from config)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject the text belongs to")
	cmd.Flags().StringVar(&recordPath, "record", "", "JSON record file to protect (- for stdin)")
	return cmd
}

func loadRecord(cmd *cobra.Command, path string) (*guardian.MapRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec guardian.MapRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	var mapPath string
	cmd := &cobra.Command{
		Use:   "restore --map FILE [text|-]",
		Short: "Put original values back in place of tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(mapPath)
			if err != nil {
				return fmt.Errorf("read token map: %w", err)
			}
			m, err := decodeTokenMap(data)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), tokenize.Restore(text, m))
			return err
		},
	}
	cmd.Flags().StringVar(&mapPath, "map", "", "JSON token map, or protect output containing one")
	_ = cmd.MarkFlagRequired("map")
	return cmd
}

// decodeTokenMap accepts either a bare token map or the JSON that protect
// prints, which carries the map under "tokens" (or metadata.tokens).
func decodeTokenMap(data []byte) (tokenize.Map, error) {
	var wrapped struct {
		Tokens   tokenize.Map `json:"tokens"`
		Metadata struct {
			Tokens tokenize.Map `json:"tokens"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if len(wrapped.Tokens) > 0 {
			return wrapped.Tokens, nil
		}
		if len(wrapped.Metadata.Tokens) > 0 {
			return wrapped.Metadata.Tokens, nil
		}
	}
	var m tokenize.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode token map: %w", err)
	}
	return m, nil
}

func newConsentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage per-subject consent",
	}

	var (
		duration time.Duration
		source   string
	)
	grant := &cobra.Command{
		Use:   "grant SUBJECT PURPOSE",
		Short: "Grant consent for a purpose",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				err := a.consent.Grant(ctx, args[0], consent.Purpose(args[1]), consent.GrantOptions{
					Duration: duration,
					Source:   source,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %s for %s\n", args[1], args[0])
				return nil
			})
		},
	}
	grant.Flags().DurationVar(&duration, "duration", 0, "expire the grant after this long (0 = never)")
	grant.Flags().StringVar(&source, "source", "cli", "where the consent was collected")

	revoke := &cobra.Command{
		Use:   "revoke SUBJECT PURPOSE",
		Short: "Revoke consent for a purpose",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.consent.Revoke(ctx, args[0], consent.Purpose(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s for %s\n", args[1], args[0])
				return nil
			})
		},
	}

	check := &cobra.Command{
		Use:   "check SUBJECT PURPOSE",
		Short: "Report whether consent is currently active",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ok, err := a.consent.Check(ctx, args[0], consent.Purpose(args[1]))
				if err != nil {
					return err
				}
				state := "denied"
				if ok {
					state = "granted"
				}
				fmt.Fprintln(cmd.OutOrStdout(), state)
				return nil
			})
		},
	}

	cmd.AddCommand(grant, revoke, check)
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/OpenPecha/webuddhist/backend/internal/server"
	"github.com/OpenPecha/webuddhist/backend/internal/telemetry"
	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
	"github.com/OpenPecha/webuddhist/backend/pkg/auth"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger/console"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "UPLOADER"

// config is resolved from flags, UPLOADER_* env vars and the optional config
// file, in that order of precedence.
type config struct {
	Destination      string
	OpenPecha        string
	Token            string
	MasterKey        string
	MappingURL       string
	HTTPTimeout      time.Duration
	MappingTimeout   time.Duration
	SegmentBatchSize int
	SyncCollections  bool
	Debug            bool
}

func loadConfig(v *viper.Viper) config {
	return config{
		Destination:      v.GetString("destination"),
		OpenPecha:        v.GetString("openpecha"),
		Token:            v.GetString("token"),
		MasterKey:        v.GetString("master-key"),
		MappingURL:       v.GetString("mapping-url"),
		HTTPTimeout:      v.GetDuration("http-timeout"),
		MappingTimeout:   v.GetDuration("mapping-timeout"),
		SegmentBatchSize: v.GetInt("segment-batch-size"),
		SyncCollections:  v.GetBool("sync-collections"),
		Debug:            v.GetBool("debug"),
	}
}

func (c config) pipeline(ctx context.Context) (*uploader.Pipeline, error) {
	kf, err := server.Keyfunc(ctx)
	if err != nil {
		return nil, err
	}
	return uploader.NewPipeline(uploader.NewPipelineParams{
		Config: uploader.Config{
			HTTPTimeout:      c.HTTPTimeout,
			MappingURL:       c.MappingURL,
			MappingTimeout:   c.MappingTimeout,
			SegmentBatchSize: c.SegmentBatchSize,
			SyncCollections:  c.SyncCollections,
		},
		Gate: auth.NewVerifier(auth.NewVerifierParams{Keyfunc: kf, MasterKey: c.MasterKey}),
	}), nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:           "uploader",
		Short:         "Copy OpenPecha texts into a WeBuddhist backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %s: %w", configFile, err)
				}
			}
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  v.GetBool("debug"),
				Output: cmd.ErrOrStderr(),
			}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.String("destination", "http://localhost:8000", "WeBuddhist backend base URL")
	flags.String("openpecha", "https://api.openpecha.org", "OpenPecha API base URL")
	flags.String("token", "", "administrator bearer token for the destination")
	flags.String("master-key", "", "token accepted as administrator without verification")
	flags.String("mapping-url", "", "mapping queue base URL, required for remote destinations")
	flags.Duration("http-timeout", 30*time.Second, "per-request timeout")
	flags.Duration("mapping-timeout", 10*time.Second, "mapping queue timeout")
	flags.Int("segment-batch-size", uploader.MaxSegmentBatchSize, "segments per POST, at most 400")
	flags.Bool("sync-collections", false, "mirror the category tree before uploading")
	flags.Bool("debug", false, "debug logging")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newUploadCmd(v, out), newCollectionsCmd(v, out))
	return root
}

func newUploadCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <text-id>...",
		Short: "Upload texts with every related expression, their segments and tables of contents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(v)
			ctx := cmd.Context()

			shutdown, err := telemetry.Init(ctx, "text-uploader-cli")
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			pipeline, err := cfg.pipeline(ctx)
			if err != nil {
				return err
			}

			results := make(map[string]*uploader.TextInstanceIds, len(args))
			for _, textID := range args {
				ids, err := pipeline.UploadText(ctx, uploader.TextUploadRequest{
					DestinationURL:  cfg.Destination,
					OpenPechaAPIURL: cfg.OpenPecha,
					TextID:          textID,
				}, cfg.Token)
				if err != nil {
					return fmt.Errorf("upload %s: %w", textID, err)
				}
				results[textID] = ids
			}
			return writeJSON(out, results)
		},
	}
}

func newCollectionsCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "Mirror the OpenPecha category tree into the destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(v)
			pipeline, err := cfg.pipeline(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := pipeline.SyncCollections(cmd.Context(), uploader.CollectionSyncRequest{
				DestinationURL:  cfg.Destination,
				OpenPechaAPIURL: cfg.OpenPecha,
			}, cfg.Token)
			if err != nil {
				return err
			}
			return writeJSON(out, ids)
		},
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

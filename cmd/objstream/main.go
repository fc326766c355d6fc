package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/einyx/objstream/internal/config"
	"github.com/einyx/objstream/internal/logging"
	"github.com/einyx/objstream/pkg/s3"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
	flagTrace    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "objstream",
		Short: "Object storage client",
		Long:  `A command-line client for S3-compatible object storage services.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagTrace, "trace", false, "dump signed requests to stderr")

	rootCmd.AddCommand(
		putCmd(), getCmd(), lsCmd(), rmCmd(), mbCmd(), presignCmd(), composeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfg *config.Config

func setup(_ *cobra.Command) error {
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	cfg, err = config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Sentry.Enabled {
		if err := initSentry(cfg); err != nil {
			logrus.WithError(err).Error("Failed to initialize Sentry")
			// Don't fail startup if Sentry init fails
		} else {
			logrus.AddHook(logging.NewSentryHook(nil))
			logrus.AddHook(logging.NewBreadcrumbHook(nil))
		}
	}

	return nil
}

func initSentry(cfg *config.Config) error {
	options := sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		AttachStacktrace: cfg.Sentry.AttachStacktrace,
		Debug:            cfg.Sentry.Debug,
	}
	if options.Release == "" {
		options.Release = fmt.Sprintf("objstream@%s", version)
	}
	options.Tags = map[string]string{
		"cli.version": version,
		"cli.commit":  commit,
		"cli.date":    date,
	}
	return sentry.Init(options)
}

func newClient() (*s3.Client, error) {
	client, err := s3.New(s3.Options{
		Endpoint:     cfg.Client.Endpoint,
		Region:       cfg.Client.Region,
		AccessKey:    cfg.Client.AccessKey,
		SecretKey:    cfg.Client.SecretKey,
		VirtualStyle: cfg.Client.VirtualHost,
		Accelerate:   cfg.Client.Accelerate,
		DualStack:    cfg.Client.DualStack,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Client.Timeout > 0 {
		client.SetTimeout(cfg.Client.Timeout)
	}
	client.SetAppInfo("objstream-cli", version)
	if flagTrace {
		client.TraceOn(os.Stderr)
	}
	return client, nil
}

// commandContext cancels on SIGINT/SIGTERM so in-flight multipart uploads
// get aborted instead of leaking parts.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// splitTarget parses "bucket/key..." into its two halves.
func splitTarget(target string) (bucket, key string, err error) {
	bucket, key, found := strings.Cut(strings.TrimPrefix(target, "/"), "/")
	if !found || bucket == "" {
		return "", "", fmt.Errorf("target %q must be of the form bucket/key", target)
	}
	return bucket, key, nil
}

func putCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "put FILE BUCKET/KEY",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			bucket, key, err := splitTarget(args[1])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			start := time.Now()
			etag, err := client.FPutObject(ctx, bucket, key, args[0],
				s3.PutObjectOptions{ContentType: contentType})
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"bucket":  bucket,
				"object":  key,
				"etag":    etag,
				"elapsed": time.Since(start),
			}).Info("Upload complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "override the detected content type")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get BUCKET/KEY [FILE]",
		Short: "Download an object (stdout when FILE is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			bucket, key, err := splitTarget(args[0])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			body, info, err := client.GetObject(ctx, bucket, key, s3.GetObjectOptions{})
			if err != nil {
				return err
			}
			defer body.Close()

			var out io.Writer = os.Stdout
			if len(args) == 2 {
				f, err := os.Create(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			n, err := io.Copy(out, body)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"bucket": bucket,
				"object": key,
				"size":   n,
				"etag":   info.ETag,
			}).Debug("Download complete")
			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	var recursive, versions, incomplete bool
	cmd := &cobra.Command{
		Use:   "ls BUCKET[/PREFIX]",
		Short: "List objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			bucket, prefix, _ := strings.Cut(strings.TrimPrefix(args[0], "/"), "/")
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			if incomplete {
				it := client.ListIncompleteUploads(ctx, bucket, prefix)
				for {
					u, err := it.Next()
					if err == s3.Done {
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%s\t%s\n", u.Initiated.Format(time.RFC3339), u.UploadID, u.Key)
				}
			}

			opts := s3.ListObjectsOptions{Prefix: prefix, Recursive: recursive}
			var it *s3.Iterator[s3.ObjectInfo]
			if versions {
				it = client.ListObjectVersions(ctx, bucket, opts)
			} else {
				it = client.ListObjects(ctx, bucket, opts)
			}
			for {
				obj, err := it.Next()
				if err == s3.Done {
					return nil
				}
				if err != nil {
					return err
				}
				line := fmt.Sprintf("%s\t%12d\t%s",
					obj.LastModified.Format(time.RFC3339), obj.Size, obj.Key)
				if versions {
					line += "\t" + obj.VersionID
					if obj.IsDeleteMarker {
						line += "\t(delete marker)"
					}
				}
				fmt.Println(line)
			}
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list across / boundaries")
	cmd.Flags().BoolVar(&versions, "versions", false, "list all object versions")
	cmd.Flags().BoolVar(&incomplete, "incomplete", false, "list incomplete multipart uploads")
	return cmd
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm BUCKET/KEY...",
		Short: "Remove objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			// Group keys per bucket so each bucket gets one bulk delete.
			byBucket := make(map[string][]string)
			for _, target := range args {
				bucket, key, err := splitTarget(target)
				if err != nil {
					return err
				}
				byBucket[bucket] = append(byBucket[bucket], key)
			}

			for bucket, keys := range byBucket {
				if len(keys) == 1 {
					if err := client.RemoveObject(ctx, bucket, keys[0], s3.RemoveObjectOptions{}); err != nil {
						return err
					}
					continue
				}
				failures, err := client.RemoveObjects(ctx, bucket, keys)
				if err != nil {
					return err
				}
				for _, f := range failures {
					logrus.WithFields(logrus.Fields{
						"bucket": bucket,
						"object": f.Key,
						"code":   f.Code,
					}).Error("Failed to remove object")
				}
				if len(failures) > 0 {
					return fmt.Errorf("%d of %d objects not removed", len(failures), len(keys))
				}
			}
			return nil
		},
	}
}

func mbCmd() *cobra.Command {
	var region string
	var objectLock bool
	cmd := &cobra.Command{
		Use:   "mb BUCKET",
		Short: "Create a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()
			return client.MakeBucket(ctx, args[0], s3.MakeBucketOptions{
				Region:     region,
				ObjectLock: objectLock,
			})
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "bucket region")
	cmd.Flags().BoolVar(&objectLock, "object-lock", false, "enable object locking")
	return cmd
}

func presignCmd() *cobra.Command {
	var expiry time.Duration
	var method string
	cmd := &cobra.Command{
		Use:   "presign BUCKET/KEY",
		Short: "Generate a presigned URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			bucket, key, err := splitTarget(args[0])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			var u fmt.Stringer
			switch strings.ToUpper(method) {
			case "GET":
				u, err = client.PresignedGetObject(ctx, bucket, key, expiry, nil)
			case "PUT":
				u, err = client.PresignedPutObject(ctx, bucket, key, expiry)
			case "HEAD":
				u, err = client.PresignedHeadObject(ctx, bucket, key, expiry)
			default:
				return fmt.Errorf("unsupported method %q", method)
			}
			if err != nil {
				return err
			}
			fmt.Println(u.String())
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "URL lifetime (max 168h)")
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method (GET, PUT, HEAD)")
	return cmd
}

func composeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compose BUCKET/DEST BUCKET/SRC...",
		Short: "Concatenate objects server-side",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			destBucket, destKey, err := splitTarget(args[0])
			if err != nil {
				return err
			}
			sources := make([]s3.ComposeSource, 0, len(args)-1)
			for _, target := range args[1:] {
				bucket, key, err := splitTarget(target)
				if err != nil {
					return err
				}
				sources = append(sources, s3.ComposeSource{Bucket: bucket, Object: key})
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			etag, err := client.ComposeObject(ctx, destBucket, destKey, sources, s3.PutObjectOptions{})
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"bucket":  destBucket,
				"object":  destKey,
				"sources": len(sources),
				"etag":    etag,
			}).Info("Compose complete")
			return nil
		},
	}
}

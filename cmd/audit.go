package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/audit"
	"github.com/xkilldash9x/phishscope/internal/config"
	"github.com/xkilldash9x/phishscope/internal/observability"
	"github.com/xkilldash9x/phishscope/internal/service"
)

// newAuditCmd groups the audit log inspection subcommands.
func newAuditCmd() *cobra.Command {
	var file string

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspects the encrypted audit log",
	}
	auditCmd.PersistentFlags().StringVar(&file, "file", "", "Audit log to read. (Overrides config/env)")

	var follow bool
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Prints the plaintext metadata of each audit record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := auditPath(cmd.Context(), file)
			if err != nil {
				return err
			}
			return followAuditLog(cmd.Context(), path, follow, func(rec audit.Record) error {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %-5s %s caller=%s action=%s id=%s\n",
					rec.Timestamp.UTC().Format(time.RFC3339), rec.Level, rec.Message, rec.CallerID, rec.Action, rec.ID)
				return err
			})
		},
	}
	tailCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reading as records are appended")

	decryptCmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypts records sealed under the configured master key",
		Long: `Opens every record in the audit log and prints its payload as a JSON line.
Requires audit.key_mode=derived and the master key the records were sealed under.
Records sealed with ephemeral keys are reported and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cfg.Audit().KeyMode != config.KeyModeDerived {
				return fmt.Errorf("audit decrypt requires audit.key_mode=%s", config.KeyModeDerived)
			}
			path, err := auditPath(ctx, file)
			if err != nil {
				return err
			}
			sealer, err := service.InitializeAuditSealer(cfg.Audit())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			skipped := 0
			err = followAuditLog(ctx, path, false, func(rec audit.Record) error {
				payload, err := audit.Decrypt(sealer, rec)
				if errors.Is(err, audit.ErrNotDecryptable) {
					skipped++
					return nil
				}
				if err != nil {
					return fmt.Errorf("record %s: %w", rec.ID, err)
				}
				return enc.Encode(struct {
					ID string `json:"id"`
					*audit.Payload
				}{rec.ID, payload})
			})
			if err != nil {
				return err
			}
			if skipped > 0 {
				observability.GetLogger().Warn("Skipped records sealed with ephemeral keys.", zap.Int("count", skipped))
			}
			return nil
		},
	}

	auditCmd.AddCommand(tailCmd, decryptCmd)
	return auditCmd
}

// auditPath resolves the log to read, falling back to the configured file.
func auditPath(ctx context.Context, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return "", err
	}
	if cfg.Audit().LogFile == "" {
		return "", fmt.Errorf("no audit log configured; pass --file or set audit.log_file")
	}
	return cfg.Audit().LogFile, nil
}

// followAuditLog parses each line of the audit log and hands it to fn. With
// follow set it keeps reading appended lines until ctx is cancelled.
func followAuditLog(ctx context.Context, path string, follow bool, fn func(audit.Record) error) error {
	logger := observability.GetLogger()
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer t.Cleanup()
	defer func() {
		if err := t.Stop(); err != nil && !errors.Is(err, io.EOF) {
			logger.Debug("Audit log tailer stopped with error.", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return fmt.Errorf("failed to read audit log: %w", line.Err)
			}
			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}
			rec, err := audit.ParseRecord([]byte(text))
			if err != nil {
				logger.Warn("Skipping malformed audit line.", zap.Error(err))
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
}

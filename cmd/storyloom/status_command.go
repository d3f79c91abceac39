package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/config"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's pools, queue and sequence totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := fetchDaemonStatus(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func fetchDaemonStatus(ctx context.Context, cfg *config.Config) (*api.DaemonStatus, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("daemon api is disabled (paths.api_bind is empty)")
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+bind+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	if cfg.Paths.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Paths.APIToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w; start it with `storyloom daemon`", bind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("daemon status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode daemon status: %w", err)
	}
	return &status, nil
}

func renderDaemonStatus(out io.Writer, status *api.DaemonStatus, colorize bool) {
	kind := statusOK
	message := fmt.Sprintf("pid %d", status.PID)
	if !status.Running {
		kind, message = statusError, "stopped"
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", kind, message, colorize))
	fmt.Fprintln(out, renderStatusLine("Records", statusInfo, status.RecordsPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, status.QueuePath, colorize))
	if status.NextSweep != "" {
		fmt.Fprintln(out, renderStatusLine("Next sweep", statusInfo, status.NextSweep, colorize))
	}

	seq := status.Sequences
	totals := fmt.Sprintf("%d books, %d sequences: %d pending, %d in flight, %d completed, %d failed",
		seq.Books, seq.Total, seq.Pending, seq.InFlight, seq.Completed, seq.Failed)
	seqKind := statusOK
	if seq.Failed > 0 {
		seqKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Sequences", seqKind, totals, colorize))

	for _, pool := range status.Pools {
		kind := statusOK
		detail := fmt.Sprintf("%d/%d busy, %d done, %d failed, %d dead", pool.Busy, pool.Workers, pool.Processed, pool.Failed, pool.Dead)
		switch {
		case !pool.Running:
			kind = statusError
		case pool.Dead > 0 || pool.LastError != "":
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine(pool.Kind, kind, detail, colorize))
	}
}

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/phishscope/internal/network"
	"github.com/xkilldash9x/phishscope/internal/observability"
	"github.com/xkilldash9x/phishscope/internal/server"
)

const defaultServerURL = "http://127.0.0.1:8080"

// newSessionCmd groups the session management subcommands. They talk to a
// running `phishscope serve` instance, since sessions live in its memory.
func newSessionCmd() *cobra.Command {
	var serverURL string

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Opens and revokes sessions on a running server",
	}
	sessionCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "Base URL of the phishscope API")

	createCmd := &cobra.Command{
		Use:   "create [caller-id]",
		Short: "Opens a session and prints its bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			token, err := client.createSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke [token]",
		Short: "Revokes a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL)
			if err := client.revokeSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "revoked")
			return err
		},
	}

	sessionCmd.AddCommand(createCmd, revokeCmd)
	return sessionCmd
}

// apiClient is a thin client for the session endpoints.
type apiClient struct {
	baseURL string
	http    *network.Client
}

func newAPIClient(baseURL string) *apiClient {
	cfg := network.NewDefaultClientConfig()
	cfg.ForceHTTP2 = false
	cfg.Logger = observability.GetLogger().Named("api_client")
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    network.NewClient(cfg),
	}
}

func (c *apiClient) createSession(ctx context.Context, callerID string) (string, error) {
	body, err := json.Marshal(server.CreateSessionRequest{CallerID: callerID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", apiError(resp)
	}
	var out server.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}
	return out.Token, nil
}

func (c *apiClient) revokeSession(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/sessions/"+url.PathEscape(token), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// apiError turns a non-success response into an error, preferring the
// server's own message.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e server.ErrorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

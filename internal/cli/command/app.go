// Package command implements sessionctl, the operator tool for a running session service.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/arklim/session-service/internal/infra/security"
	"github.com/arklim/session-service/internal/transport/http/handlers"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const clientMetadataKey = "client"

// App creates the sessionctl application.
func App() *cli.App {
	return &cli.App{
		Name:    "sessionctl",
		Usage:   "Manage sessions of a running session service",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Base URL of the session service",
				EnvVars: []string{"SESSIONCTL_SERVER"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "admin-key",
				Aliases: []string{"k"},
				Usage:   "Admin API key",
				EnvVars: []string{"SESSIONCTL_ADMIN_KEY", "SESSION_APP_ADMIN_API_KEY"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Print raw JSON",
			},
		},
		Before: func(c *cli.Context) error {
			c.App.Metadata[clientMetadataKey] = NewClient(c.String("server"), c.String("admin-key"), c.Duration("timeout"))
			return nil
		},
		Commands: []*cli.Command{
			sessionCommand(),
			handshakeCommand(),
			keygenCommand(),
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Inspect and revoke sessions",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List session handles of a user",
				ArgsUsage: "USER_ID",
				Action:    sessionList,
			},
			{
				Name:  "create",
				Usage: "Create a session for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user-id", Aliases: []string{"u"}, Usage: "User ID", Required: true},
					&cli.StringFlag{Name: "jwt-payload", Usage: "JSON object embedded in access tokens"},
					&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON session data kept server side"},
				},
				Action: sessionCreate,
			},
			{
				Name:      "revoke",
				Usage:     "Revoke a session by handle",
				ArgsUsage: "HANDLE",
				Action:    sessionRevoke,
			},
			{
				Name:  "data",
				Usage: "Read or replace the server-side data of a session",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Print session data",
						ArgsUsage: "HANDLE",
						Action:    sessionDataGet,
					},
					{
						Name:      "set",
						Usage:     "Replace session data",
						ArgsUsage: "HANDLE JSON",
						Action:    sessionDataSet,
					},
				},
			},
			{
				Name:      "revoke-all",
				Usage:     "Revoke every session of a user",
				ArgsUsage: "USER_ID",
				Action:    sessionRevokeAll,
			},
		},
	}
}

func handshakeCommand() *cli.Command {
	return &cli.Command{
		Name:  "handshake",
		Usage: "Inspect the cookie and validity parameters",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the cached handshake",
				Action: handshakeShow,
			},
			{
				Name:   "reload",
				Usage:  "Drop the cached handshake and fetch it again",
				Action: handshakeReload,
			},
		},
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:      "keygen",
		Usage:     "Write a new RSA signing key into a key directory",
		ArgsUsage: "DIR KID",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "bits", Value: security.DefaultKeyBits, Usage: "RSA modulus size"},
		},
		Action: keygen,
	}
}

func client(c *cli.Context) *Client {
	cl, _ := c.App.Metadata[clientMetadataKey].(*Client)
	return cl
}

func requireArg(c *cli.Context, name string) (string, error) {
	value := strings.TrimSpace(c.Args().First())
	if value == "" {
		return "", cli.Exit(fmt.Sprintf("%s is required", name), 2)
	}
	return value, nil
}

func sessionList(c *cli.Context) error {
	userID, err := requireArg(c, "USER_ID")
	if err != nil {
		return err
	}
	resp, err := client(c).ListSessions(c.Context, userID)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, resp)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tUSER")
	for _, handle := range resp.Handles {
		fmt.Fprintf(w, "%s\t%s\n", handle, resp.UserID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d session(s)\n", resp.Total)
	return nil
}

func sessionCreate(c *cli.Context) error {
	req := handlers.CreateSessionRequest{UserID: c.String("user-id")}
	var err error
	if req.JWTPayload, err = jsonFlag(c, "jwt-payload"); err != nil {
		return err
	}
	if req.SessionData, err = jsonFlag(c, "data"); err != nil {
		return err
	}

	resp, err := client(c).CreateSession(c.Context, req)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, resp)
	}
	fmt.Fprintf(c.App.Writer, "created session %s for %s\n", resp.Handle, resp.UserID)
	return nil
}

func sessionRevoke(c *cli.Context) error {
	handle, err := requireArg(c, "HANDLE")
	if err != nil {
		return err
	}
	revoked, err := client(c).RevokeSession(c.Context, handle)
	if err != nil {
		return err
	}
	if revoked {
		fmt.Fprintf(c.App.Writer, "revoked %s\n", handle)
	} else {
		fmt.Fprintf(c.App.Writer, "%s was not live\n", handle)
	}
	return nil
}

func sessionRevokeAll(c *cli.Context) error {
	userID, err := requireArg(c, "USER_ID")
	if err != nil {
		return err
	}
	count, err := client(c).RevokeUserSessions(c.Context, userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "revoked %d session(s) of %s\n", count, userID)
	return nil
}

func sessionDataGet(c *cli.Context) error {
	handle, err := requireArg(c, "HANDLE")
	if err != nil {
		return err
	}
	resp, err := client(c).SessionData(c.Context, handle)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, resp)
	}
	fmt.Fprintln(c.App.Writer, string(resp.Data))
	return nil
}

func sessionDataSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: sessionctl session data set HANDLE JSON", 2)
	}
	handle, value := c.Args().Get(0), c.Args().Get(1)
	if !json.Valid([]byte(value)) {
		return cli.Exit("session data must be valid JSON", 2)
	}
	if err := client(c).SetSessionData(c.Context, handle, json.RawMessage(value)); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "updated data of %s\n", handle)
	return nil
}

func handshakeShow(c *cli.Context) error {
	return printHandshake(c, client(c).Handshake)
}

func handshakeReload(c *cli.Context) error {
	return printHandshake(c, client(c).ReloadHandshake)
}

func printHandshake(c *cli.Context, fetch func(context.Context) (*handlers.HandshakeResponse, error)) error {
	hs, err := fetch(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, hs)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "cookie domain\t%s\n", hs.CookieDomain)
	fmt.Fprintf(w, "cookie secure\t%t\n", hs.CookieSecure)
	fmt.Fprintf(w, "access token path\t%s\n", hs.AccessTokenPath)
	fmt.Fprintf(w, "refresh token path\t%s\n", hs.RefreshTokenPath)
	fmt.Fprintf(w, "anti-csrf\t%t\n", hs.AntiCsrfEnabled)
	fmt.Fprintf(w, "access validity\t%s\n", hs.AccessTokenValidity)
	fmt.Fprintf(w, "refresh validity\t%s\n", hs.RefreshTokenValidity)
	return w.Flush()
}

func keygen(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: sessionctl keygen DIR KID", 2)
	}
	path, err := security.WriteSigningKey(c.Args().Get(0), c.Args().Get(1), c.Int("bits"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}

func jsonFlag(c *cli.Context, name string) (json.RawMessage, error) {
	value := strings.TrimSpace(c.String(name))
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, cli.Exit(fmt.Sprintf("--%s must be valid JSON", name), 2)
	}
	return json.RawMessage(value), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/DocumentChain/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	token     string
	cfgFile   string
	format    string
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chainctl",
	Short: "Document chain CLI",
	Long: `chainctl talks to a chaind server.

It appends and reads documents through the integrity gate, verifies the
chain, triggers integrity checks and manages alert recipients.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.chainctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("chainctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chainctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "chaind base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for mutating routes")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(verifyCmd, appendCmd, listCmd, getCmd, latestCmd, checkCmd, statusCmd, recipientsCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(serverURL, opts...)
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── verify ──────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the server's chain from genesis",
	Long: `Verify asks the server to recompute every link of the chain.

The command exits non-zero when the chain is compromised, so it can be used
in scripts and health checks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		v, err := c.Verify(ctx)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if format == "json" {
			if err := printJSON(v); err != nil {
				return err
			}
		} else if v.Integrity {
			fmt.Printf("✓ Chain valid (%d records)\n", v.Records)
		} else {
			fmt.Printf("✗ %s\n", v.Message)
			if v.Sequence != nil {
				fmt.Printf("  Sequence: %d\n  Reason:   %s\n", *v.Sequence, v.Reason)
			}
		}
		if !v.Integrity {
			return errors.New("chain integrity compromised")
		}
		return nil
	},
}

// ── append ──────────────────────────────────────────────────────────────────

var appendFile string

var appendCmd = &cobra.Command{
	Use:   "append [json-value]",
	Short: "Append a document to the chain",
	Long: `Append adds one document. The value must be a JSON string, number or
object:

  chainctl append '{"dataType":"invoice","identifier":"INV-1","total":12.5}'
  chainctl append '"free text"'
  chainctl append --file doc.json
  cat doc.json | chainctl append --file -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := appendInput(args)
		if err != nil {
			return err
		}
		if !json.Valid(raw) {
			return errors.New("document is not valid JSON")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		doc, err := c.AppendDocument(ctx, json.RawMessage(raw))
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		if format == "json" {
			return printJSON(doc)
		}
		fmt.Printf("✓ Document appended\n\n")
		fmt.Printf("  ID:       %s\n", doc.ID)
		fmt.Printf("  Sequence: %d\n", doc.Sequence)
		fmt.Printf("  Hash:     %s\n", doc.Hash)
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendFile, "file", "", "Read the document from a file (- for stdin)")
}

func appendInput(args []string) ([]byte, error) {
	switch {
	case appendFile == "-":
		return io.ReadAll(os.Stdin)
	case appendFile != "":
		return os.ReadFile(appendFile)
	case len(args) == 1:
		return []byte(args[0]), nil
	default:
		return nil, errors.New("provide a JSON value or --file")
	}
}

// ── list / get / latest ─────────────────────────────────────────────────────

var (
	listType       string
	listIdentifier string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, optionally filtered by dataType or identifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listType != "" && listIdentifier != "" {
			return errors.New("--type and --identifier are mutually exclusive")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		var docs []client.Document
		switch {
		case listType != "":
			docs, err = c.DocumentsByType(ctx, listType)
		case listIdentifier != "":
			docs, err = c.DocumentsByIdentifier(ctx, listIdentifier)
		default:
			docs, err = c.ListDocuments(ctx)
		}
		if err != nil {
			return describeGateError("list", err)
		}
		if format == "json" {
			return printJSON(docs)
		}
		return printDocuments(docs)
	},
}

func init() {
	listCmd.Flags().StringVar(&listType, "type", "", "Only documents whose dataType equals this value")
	listCmd.Flags().StringVar(&listIdentifier, "identifier", "", "Only documents whose identifier equals this value")
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one document by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		doc, err := c.GetDocument(ctx, args[0])
		if err != nil {
			return describeGateError("get", err)
		}
		return printDocument(doc)
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the chain head",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		doc, err := c.LatestDocument(ctx)
		if err != nil {
			return describeGateError("latest", err)
		}
		return printDocument(doc)
	},
}

func describeGateError(op string, err error) error {
	switch {
	case client.IsViolation(err):
		return fmt.Errorf("%s refused: chain integrity compromised: %w", op, err)
	case client.IsIndeterminate(err):
		return fmt.Errorf("%s refused: integrity could not be determined: %w", op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func printDocument(doc *client.Document) error {
	if format == "json" {
		return printJSON(doc)
	}
	if doc.IsSentinel() {
		fmt.Println("⚠ Chain integrity compromised; the server returned a placeholder record")
	}
	fmt.Printf("ID:        %s\n", doc.ID)
	fmt.Printf("Sequence:  %d\n", doc.Sequence)
	fmt.Printf("Prev hash: %s\n", doc.PrevHash)
	fmt.Printf("Hash:      %s\n", doc.Hash)
	fmt.Printf("Timestamp: %s\n", doc.Timestamp.Format(time.RFC3339))
	fmt.Printf("Payload:   %s\n", doc.Payload)
	return nil
}

func printDocuments(docs []client.Document) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tID\tKIND\tHASH\tPAYLOAD")
	for _, d := range docs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", d.Sequence, d.ID, d.PayloadKind, short(d.Hash), truncate(string(d.Payload), 60))
	}
	return w.Flush()
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// ── check / status ──────────────────────────────────────────────────────────

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run an integrity check now, alerting recipients if compromised",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		res, err := c.Check(ctx)
		if err != nil {
			return fmt.Errorf("check: %w", err)
		}
		if format == "json" {
			return printJSON(res)
		}
		switch res.Status {
		case "VALID":
			fmt.Println("✓ Integrity valid")
		case "COMPROMISED":
			fmt.Println("✗ Integrity compromised")
			fmt.Printf("  Alert sent: %v (%d recipient(s))\n", res.AlertSent, res.RecipientCount)
		default:
			fmt.Printf("? Integrity check failed: %s\n", res.Message)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the monitor's last-known integrity status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		s, err := c.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if format == "json" {
			return printJSON(map[string]string{"status": s})
		}
		fmt.Println(s)
		return nil
	},
}

// ── recipients ──────────────────────────────────────────────────────────────

var recipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Manage integrity alert recipients",
}

var recipientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered recipients",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		list, err := c.ListRecipients(ctx)
		if err != nil {
			return fmt.Errorf("list recipients: %w", err)
		}
		if format == "json" {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No recipients registered.")
			return nil
		}
		fmt.Println(strings.Join(list, "\n"))
		return nil
	},
}

var recipientsAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Register a recipient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		res, err := c.AddRecipient(ctx, args[0])
		if err != nil {
			return fmt.Errorf("add recipient: %w", err)
		}
		fmt.Printf("✓ %s\n", res.Message)
		return nil
	},
}

var recipientsRemoveCmd = &cobra.Command{
	Use:   "remove <email>",
	Short: "Unregister a recipient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		res, err := c.RemoveRecipient(ctx, args[0])
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("%s is not registered", args[0])
			}
			return fmt.Errorf("remove recipient: %w", err)
		}
		fmt.Printf("✓ %s\n", res.Message)
		return nil
	},
}

var recipientsTestCmd = &cobra.Command{
	Use:   "test <email>",
	Short: "Send a test email through the server's mail transport",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout()
		defer cancel()

		if err := c.SendTestEmail(ctx, args[0]); err != nil {
			return fmt.Errorf("send test email: %w", err)
		}
		fmt.Printf("✓ Test email sent to %s\n", args[0])
		return nil
	},
}

func init() {
	recipientsCmd.AddCommand(recipientsListCmd, recipientsAddCmd, recipientsRemoveCmd, recipientsTestCmd)
}

// ── version ─────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chainctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("chainctl", version)
	},
}

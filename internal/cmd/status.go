package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/core/esign"
	errwrap "github.com/signcrate/signcrate/internal/errors"
	"github.com/signcrate/signcrate/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status <envelope-id>",
	Short: "Show an envelope's status and recipients",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Check credentials and list the user's accounts",
	Long: `Request an access token through the JWT grant and show the accounts the
user can act on. Fails when the credentials or private key are wrong.`,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(authCmd)

	statusCmd.Flags().StringP("output-format", "f", "table", "output format: table, json")
	statusCmd.Flags().String("out", "", "write output to a file instead of stdout")
}

// envelopeDetail is the JSON shape printed by status.
type envelopeDetail struct {
	Envelope   *core.Envelope    `json:"envelope"`
	Recipients *core.Recipients  `json:"recipients,omitempty"`
	Documents  []core.Document   `json:"documents,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	envelopeID := strings.TrimSpace(args[0])
	if envelopeID == "" {
		return errwrap.NewInvalidInputError("envelope ID is required")
	}

	ctx := cmd.Context()
	session, err := newRemoteSession(ctx)
	if err != nil {
		return err
	}

	envelope, err := session.client.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return err
	}

	// recipients and documents are best-effort once the envelope is known
	detail := envelopeDetail{Envelope: envelope, Errors: map[string]string{}}
	if detail.Recipients, err = session.client.GetRecipients(ctx, envelopeID); err != nil {
		detail.Errors["recipients"] = err.Error()
	}
	if detail.Documents, err = session.client.ListDocuments(ctx, envelopeID); err != nil {
		detail.Errors["documents"] = err.Error()
	}

	if format == output.FormatJSON {
		data, err := json.MarshalIndent(detail, "", "  ")
		if err != nil {
			return errwrap.WrapDataProcessing(ctx, err, "render envelope status")
		}
		return writeOutput(outPath, string(data))
	}
	return writeOutput(outPath, renderEnvelopeDetail(detail))
}

func renderEnvelopeDetail(detail envelopeDetail) string {
	env := detail.Envelope

	summary := table.NewWriter()
	summary.SetStyle(table.StyleRounded)
	summary.SetTitle("Envelope " + env.EnvelopeID)
	summary.AppendRows([]table.Row{
		{"Subject", env.EmailSubject},
		{"Status", string(env.Status)},
		{"Created", env.CreatedDateTime},
		{"Sent", env.SentDateTime},
		{"Completed", env.CompletedDateTime},
		{"Status changed", env.StatusChangedDateTime},
	})
	parts := []string{summary.Render()}

	if detail.Recipients != nil {
		recipients := table.NewWriter()
		recipients.SetStyle(table.StyleRounded)
		recipients.AppendHeader(table.Row{"Role", "Order", "Name", "Email", "Status", "Signed"})
		for _, r := range detail.Recipients.Signers {
			recipients.AppendRow(table.Row{"signer", r.RoutingOrder, r.Name, r.Email, r.Status, r.SignedAt})
		}
		for _, r := range detail.Recipients.CarbonCopies {
			recipients.AppendRow(table.Row{"cc", r.RoutingOrder, r.Name, r.Email, r.Status, ""})
		}
		parts = append(parts, recipients.Render())
	}

	if len(detail.Documents) > 0 {
		documents := table.NewWriter()
		documents.SetStyle(table.StyleRounded)
		documents.AppendHeader(table.Row{"Document", "Name", "Type", "Pages"})
		for _, d := range detail.Documents {
			documents.AppendRow(table.Row{d.DocumentID, d.Name, d.Type, d.Pages})
		}
		parts = append(parts, documents.Render())
	}

	for _, section := range []string{"recipients", "documents"} {
		if message, ok := detail.Errors[section]; ok {
			parts = append(parts, fmt.Sprintf("%s unavailable: %s", section, message))
		}
	}
	return strings.Join(parts, "\n")
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	session, err := newRemoteSession(ctx)
	if err != nil {
		return err
	}

	info, err := session.verifyAccount(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), accountsBox(info, session.cfg.ESign.AccountID))
	return err
}

func accountsBox(info *esign.UserInfo, configured string) string {
	lines := []string{
		fmt.Sprintf("User: %s <%s>", info.Name, info.Email),
		"",
	}
	for _, account := range info.Accounts {
		marker := " "
		if account.AccountID == configured {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s  %s", marker, account.AccountID, account.AccountName)
		if account.IsDefault {
			line += " (default)"
		}
		lines = append(lines, line)
	}
	if _, ok := info.Account(configured); !ok {
		lines = append(lines, "", fmt.Sprintf("! configured account %s not found", configured))
	}
	return ascii.DrawBox(strings.Join(lines, "\n"), 0)
}

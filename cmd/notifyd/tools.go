package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/notification-pipeline/internal/events"
	"github.com/example/notification-pipeline/internal/models"
	"github.com/example/notification-pipeline/internal/notifier"
)

func previewCmd() *cobra.Command {
	var (
		emailType  string
		templateID string
		dataFile   string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render a template with sample or supplied data",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(dataFile)
			if err != nil {
				return err
			}
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.notifier.PreviewTemplate(cmd.Context(), notifier.PreviewRequest{
				TemplateID: templateID,
				Type:       emailType,
				Data:       data,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&emailType, "type", "", "email or event type to preview")
	cmd.Flags().StringVar(&templateID, "template", "", "stored template id")
	cmd.Flags().StringVar(&dataFile, "data", "", "JSON file with template variables")
	return cmd
}

func validateTemplateCmd() *cobra.Command {
	var (
		subject string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "validate-template",
		Short: "Check template syntax",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			body, err := readInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.notifier.ValidateTemplate(subject, string(body))
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("template invalid: %s", strings.Join(res.Errors, "; "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "subject line template")
	cmd.Flags().StringVar(&file, "file", "", "HTML body file, or - for stdin")
	return cmd
}

func sendTestCmd() *cobra.Command {
	var (
		eventName string
		to        string
		dataFile  string
	)

	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Publish a sample domain event onto the configured bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventName == "" || to == "" {
				return errors.New("--event and --to are required")
			}
			payload, err := readData(dataFile)
			if err != nil {
				return err
			}
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			if payload == nil {
				payload = a.notifier.SampleData(models.EmailTypeForEvent(eventName))
			}
			payload["recipient_email"] = to

			evt := events.New(eventName, payload)
			evt.Source = "notifyd"
			if err := a.bus.Publish(cmd.Context(), evt); err != nil {
				return fmt.Errorf("publish %s: %w", eventName, err)
			}
			a.log.Info().Str("event", eventName).Str("event_id", evt.ID).Str("to", to).Msg("test event published")
			return writeJSON(cmd.OutOrStdout(), evt)
		},
	}

	cmd.Flags().StringVar(&eventName, "event", "", "event name, e.g. ORDER_PLACED")
	cmd.Flags().StringVar(&to, "to", "", "recipient email address")
	cmd.Flags().StringVar(&dataFile, "data", "", "JSON file with the event payload")
	return cmd
}

func readData(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := readInput(path, os.Stdin)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return data, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

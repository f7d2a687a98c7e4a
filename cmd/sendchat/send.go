package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/sendchat/pkg/dispatch"
	"github.com/pario-ai/sendchat/pkg/models"
)

var errNoResult = errors.New("all models failed")

func newSendCmd() *cobra.Command {
	var (
		configPath string
		model      string
		system     string
		fallbacks  []string
		noFallback bool
		stream     bool
	)

	cmd := &cobra.Command{
		Use:   "send [prompt]",
		Short: "Send a prompt and print the reply",
		Long: "Send a prompt to --model and print the first reply. Bad requests and malformed\n" +
			"replies move on to the fallback models; transient failures are retried with backoff.\n" +
			"Without arguments the prompt is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			log, logCloser, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logCloser.Close() }()

			d, cacheCloser, err := newDispatcher(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = cacheCloser.Close() }()

			var messages []models.Message
			if system != "" {
				messages = append(messages, models.Message{Role: models.RoleSystem, Content: system})
			}
			messages = append(messages, models.Message{Role: models.RoleUser, Content: prompt})

			if stream {
				res, err := d.SendWithRetries(cmd.Context(), &models.CompletionRequest{
					Model:    model,
					Messages: messages,
					Stream:   true,
				})
				if err != nil {
					return err
				}
				content, err := dispatch.Content(res.Response)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), content)
				return nil
			}

			chain := cfg.FallbackModels
			switch {
			case noFallback:
				chain = nil
			case cmd.Flags().Changed("fallback"):
				chain = fallbacks
			}

			content, ok, err := d.SimpleSend(cmd.Context(), model, messages, chain)
			if err != nil {
				return err
			}
			if !ok {
				return errNoResult
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "primary model")
	cmd.Flags().StringVarP(&system, "system", "s", "", "system prompt")
	cmd.Flags().StringArrayVar(&fallbacks, "fallback", nil, "fallback model, tried in order (repeatable)")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "ignore configured fallback models")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the reply from --model only, bypassing the cache")
	_ = cmd.MarkFlagRequired("model")
	cmd.MarkFlagsMutuallyExclusive("fallback", "no-fallback")
	return cmd
}

func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}

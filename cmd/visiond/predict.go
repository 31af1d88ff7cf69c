package main

import (
	"context"
	"fmt"
	"iter"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"visiond/internal/backend"
	"visiond/internal/proxy"
)

func newPredictCmd() *cobra.Command {
	var (
		image     string
		prompt    string
		temp      float64
		topP      float64
		maxTokens int
		attach    bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run one prediction and stream the answer to stdout",
		Example: "  visiond predict --image cat.png --prompt 'What is in this picture?'\n" +
			"  visiond predict --attach --image cat.png --max-tokens 64",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := configAndLogger(cmd)
			if err != nil {
				return err
			}
			img, err := proxy.LoadImage(image)
			if err != nil {
				return err
			}
			req := proxy.NewRequest(img, prompt, proxy.WithTemperature(temp), proxy.WithTopP(topP), proxy.WithMaxTokens(maxTokens))
			if err := req.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var seq iter.Seq2[string, error]
			if attach {
				seq = proxy.New(proxy.Options{
					BaseURL:        cfg.BackendURL(),
					Model:          cfg.ModelName,
					ConnectTimeout: cfg.ConnectTimeout.Std(),
					Log:            log,
				}).Predict(ctx, req)
			} else {
				h, err := backend.Setup(ctx, backend.FromConfig(cfg, log), backend.Deps{})
				if err != nil {
					return err
				}
				defer h.Close(context.WithoutCancel(ctx))
				seq = h.PredictRequest(ctx, req)
			}

			out := cmd.OutOrStdout()
			for frag, err := range seq {
				if err != nil {
					fmt.Fprintln(out)
					return err
				}
				fmt.Fprint(out, frag)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&image, "image", "", "Image file to describe")
	f.StringVar(&prompt, "prompt", "", "Prompt sent with the image")
	f.Float64Var(&temp, "temperature", proxy.DefaultTemperature, "Sampling temperature in [0, 1]")
	f.Float64Var(&topP, "top-p", proxy.DefaultTopP, "Nucleus sampling probability in [0, 1]")
	f.IntVar(&maxTokens, "max-tokens", proxy.DefaultMaxTokens, "Maximum tokens to generate")
	f.BoolVar(&attach, "attach", false, "Use an already running backend at --backend-host; skip setup")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}
